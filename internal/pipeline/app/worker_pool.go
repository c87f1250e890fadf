package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/queue"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errLeaseLost worker 察覺租約易主時中止本地工作用
var errLeaseLost = fmt.Errorf("租約已遺失或易主")

// PoolConfig worker pool 的執行參數
type PoolConfig struct {
	Workers           int
	BackoffBase       time.Duration // 重試退避基數，按嘗試數指數成長
	BackoffCap        time.Duration // 退避上限
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	TempDir           string
}

// TranscodePool 固定數量的 worker 消費 job queue
// worker 只做三件事：調用外部工具、管本地暫存、向 Orchestrator 回報；
// 狀態轉移與發布決策一律不在這裡
type TranscodePool struct {
	consumer   queue.JobConsumer
	orch       *Orchestrator
	leases     repository.LeaseRepo
	transcoder Transcoder
	store      database.MinIOClientRepo // 僅用於下載原始檔
	cfg        PoolConfig
	workerID   string
}

// NewTranscodePool create a TranscodePool
func NewTranscodePool(
	consumer queue.JobConsumer,
	orch *Orchestrator,
	leases repository.LeaseRepo,
	transcoder Transcoder,
	store database.MinIOClientRepo,
	cfg PoolConfig,
) *TranscodePool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.LeaseTTL / 3
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &TranscodePool{
		consumer:   consumer,
		orch:       orch,
		leases:     leases,
		transcoder: transcoder,
		store:      store,
		cfg:        cfg,
		workerID:   uuid.New().String(),
	}
}

// Run 啟動固定數量的 worker，直到 ctx 結束或投遞 channel 關閉
func (p *TranscodePool) Run(ctx context.Context) error {
	deliveries, err := p.consumer.Consume(ctx, p.cfg.Workers)
	if err != nil {
		return err
	}

	logger.Log.Info("transcode worker pool 啟動",
		zap.String("worker_id", p.workerID),
		zap.Int("workers", p.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				p.handle(ctx, d)
			}
		}()
	}
	wg.Wait()
	return nil
}

// handle 處理一次投遞：取租約、認領、轉碼、依結果 ack/nack
func (p *TranscodePool) handle(ctx context.Context, d queue.JobDelivery) {
	job := d.Job

	ok, err := p.leases.Acquire(ctx, job.JobID, p.workerID, p.cfg.LeaseTTL)
	if err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 取租約失敗: %v", job.JobID, err))
		p.nack(d, true)
		return
	}
	if !ok {
		// 其他 worker 仍持有租約（可能是崩潰前的自己），退回等下次投遞
		logger.Log.Debug("job 租約被持有，退回等待重投遞",
			zap.String("job_id", job.JobID))
		p.nack(d, true)
		return
	}
	defer func() {
		if err := p.leases.Release(context.Background(), job.JobID, p.workerID); err != nil {
			logger.Log.Warn(fmt.Sprintf("job[%s] 釋放租約失敗: %v", job.JobID, err))
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, job.JobID)

	state, err := p.orch.MarkProcessing(ctx, job)
	if err != nil {
		p.nack(d, true)
		return
	}
	switch {
	case state.Terminal():
		// 重複投遞已完成的 job；ready 但完成事件未確認送達時由 Evaluate 補發
		if _, err := p.orch.Evaluate(ctx, job); err != nil {
			logger.Log.Warn(fmt.Sprintf("job[%s] 補發完成事件失敗: %v", job.JobID, err))
			p.pauseBeforeRequeue(ctx)
			p.nack(d, true)
			return
		}
		p.ack(d)
		return
	case state == domain.JobCancelling:
		p.cancelAndAck(ctx, d, job)
		return
	}

	err = p.process(ctx, job)
	switch {
	case err == nil:
		p.ack(d)
	case err == errLeaseLost:
		// 本地工作已中止；訊息退回，由現任租約持有者的投遞收斂
		p.nack(d, true)
	case domain.Classify(err) == domain.FailureInfrastructure:
		logger.Log.Warn(fmt.Sprintf("job[%s] 基礎設施錯誤，退回重投遞: %v", job.JobID, err))
		p.pauseBeforeRequeue(ctx)
		p.nack(d, true)
	default:
		p.pauseBeforeRequeue(ctx)
		p.nack(d, true)
	}
}

// pauseBeforeRequeue 退回訊息前稍作等待，避免 broker 立即重投遞形成熱迴圈
func (p *TranscodePool) pauseBeforeRequeue(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.BackoffBase):
	}
}

// process 逐一處理 job 請求的 rendition，全部回報完後重新評估 set
// 回傳 nil 代表 job 已在這次處理中收斂到終態（或取消）
func (p *TranscodePool) process(ctx context.Context, job domain.JobDescriptor) error {
	workDir := filepath.Join(p.cfg.TempDir, "transcode_"+job.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return domain.NewTransient("workdir_failed", err)
	}
	defer os.RemoveAll(workDir)

	rawPath := filepath.Join(workDir, "source"+filepath.Ext(job.RawAssetKey))
	if err := p.store.DownloadFile(ctx, job.RawAssetKey, rawPath); err != nil {
		return domain.NewInfrastructure("raw_asset_unavailable", err)
	}

	if err := p.probeSource(ctx, job, workDir, rawPath); err != nil {
		return err
	}

	records, err := p.orch.RenditionStates(ctx, job.JobID)
	if err != nil {
		return err
	}

	for _, name := range job.Renditions {
		if rec, ok := records[name]; ok && rec.Status == domain.RenditionDone {
			// redelivery：已完成的 rendition 不重做
			logger.Log.Debug("rendition 已完成，跳過",
				zap.String("job_id", job.JobID),
				zap.String("profile", name))
			continue
		}

		state, err := p.transcodeOne(ctx, job, workDir, rawPath, name)
		if err != nil {
			return err
		}
		if state == domain.JobCancelling {
			_, err := p.orch.FinishCancel(ctx, job)
			return err
		}
		if state.Terminal() {
			// 任一 rendition 耗盡預算即整個 job 失敗，剩餘 profile 不再處理
			return nil
		}
	}

	// 全部回報完成後由持久記錄重新評估，redelivery 跳過全部時也在這裡發布
	state, err := p.orch.Evaluate(ctx, job)
	if err != nil {
		return err
	}
	if state == domain.JobCancelling {
		// 取消在處理途中落地（例如 resume 時全部 rendition 已完成），清理仍歸這個 worker
		_, err := p.orch.FinishCancel(ctx, job)
		return err
	}
	return nil
}

// transcodeOne 單一 rendition 的嘗試迴圈：失敗依分類決定重試或回報終局
func (p *TranscodePool) transcodeOne(ctx context.Context, job domain.JobDescriptor, workDir, rawPath, name string) (domain.JobState, error) {
	outPath := filepath.Join(workDir, name+".mp4")

	for {
		profile, err := domain.LookupProfile(name)
		if err != nil {
			err = domain.NewPermanent("profile_unknown", err)
		} else {
			err = p.transcoder.Transcode(ctx, rawPath, outPath, profile)
		}

		// 回報前確認租約仍在手上，失去租約的 zombie 不得再寫入任何結果
		held, herr := p.leases.Held(ctx, job.JobID, p.workerID)
		if herr != nil {
			return "", domain.NewInfrastructure("lease_store_unavailable", herr)
		}
		if !held {
			logger.Log.Warn("租約已易主，中止本地工作",
				zap.String("job_id", job.JobID),
				zap.String("worker_id", p.workerID))
			return "", errLeaseLost
		}

		if err == nil {
			state, rerr := p.orch.ReportRenditionDone(ctx, job, name, outPath)
			if rerr == nil {
				return state, nil
			}
			if domain.Classify(rerr) == domain.FailureInfrastructure {
				return state, rerr
			}
			// 持久化產物的暫時性失敗（如 checksum）同樣消耗該 rendition 的重試預算，
			// 否則會繞過嘗試上限變成無退避的重投遞迴圈
			err = rerr
		}

		// 基礎設施錯誤不消耗 rendition 的重試預算，交給重投遞
		if domain.Classify(err) == domain.FailureInfrastructure {
			return "", err
		}

		state, attempts, rerr := p.orch.ReportRenditionFailure(ctx, job, name, err)
		if rerr != nil {
			return state, rerr
		}
		if state != domain.JobProcessing {
			return state, nil
		}

		delay := backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffCap, attempts)
		logger.Log.Info("轉碼嘗試失敗，退避後重試",
			zap.String("job_id", job.JobID),
			zap.String("profile", name),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return "", domain.NewInfrastructure("shutdown", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// probeSource 擷取封面與時長；探測失敗不影響轉碼本身，
// 但寫入前同樣要確認租約，失去租約的 zombie 連封面也不得覆寫
func (p *TranscodePool) probeSource(ctx context.Context, job domain.JobDescriptor, workDir, rawPath string) error {
	duration, err := p.transcoder.ProbeDuration(ctx, rawPath)
	if err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 探測時長失敗: %v", job.JobID, err))
	}

	coverPath := filepath.Join(workDir, "cover.jpg")
	if err := p.transcoder.ExtractCover(ctx, rawPath, coverPath); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 擷取封面失敗: %v", job.JobID, err))
		coverPath = ""
	}

	if duration == 0 && coverPath == "" {
		return nil
	}

	held, herr := p.leases.Held(ctx, job.JobID, p.workerID)
	if herr != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 租約查詢失敗，跳過探測結果: %v", job.JobID, herr))
		return nil
	}
	if !held {
		logger.Log.Warn("租約已易主，中止本地工作",
			zap.String("job_id", job.JobID),
			zap.String("worker_id", p.workerID))
		return errLeaseLost
	}

	if err := p.orch.ReportSourceProbe(ctx, job, coverPath, duration); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 保存探測結果失敗: %v", job.JobID, err))
	}
	return nil
}

// cancelAndAck 清理取消中的 job 後確認訊息
func (p *TranscodePool) cancelAndAck(ctx context.Context, d queue.JobDelivery, job domain.JobDescriptor) {
	if _, err := p.orch.FinishCancel(ctx, job); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 取消清理失敗: %v", job.JobID, err))
		p.nack(d, true)
		return
	}
	p.ack(d)
}

// heartbeat 週期性續租；續租失敗僅記錄，易主偵測在回報點進行
func (p *TranscodePool) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.leases.Renew(ctx, jobID, p.workerID, p.cfg.LeaseTTL)
			if err != nil || !ok {
				logger.Log.Warn("租約續期失敗",
					zap.String("job_id", jobID),
					zap.String("worker_id", p.workerID))
			}
		}
	}
}

func (p *TranscodePool) ack(d queue.JobDelivery) {
	if err := d.Ack(); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] ack 失敗: %v", d.Job.JobID, err))
	}
}

func (p *TranscodePool) nack(d queue.JobDelivery, requeue bool) {
	if err := d.Nack(requeue); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] nack 失敗: %v", d.Job.JobID, err))
	}
}

// backoffDelay 指數退避：base << (attempt-1)，封頂於 maxDelay
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
