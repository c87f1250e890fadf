package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/logger"

	"go.uber.org/zap"
)

// Orchestrator job 狀態機的唯一寫入者
// 所有狀態轉移都走這裡：worker 只回報事實（某個 rendition 成功或失敗），
// 終態判定一律從 rendition set 的持久記錄重新計算，重複回報自然冪等
type Orchestrator struct {
	status      repository.StatusRepo
	renditions  repository.RenditionRepo
	events      repository.JobEventRepo
	publisher   ResultPublisher
	retryBudget int
}

// NewOrchestrator create a Orchestrator
func NewOrchestrator(
	status repository.StatusRepo,
	renditions repository.RenditionRepo,
	events repository.JobEventRepo,
	publisher ResultPublisher,
	retryBudget int,
) *Orchestrator {
	if retryBudget <= 0 {
		retryBudget = 3
	}
	return &Orchestrator{
		status:      status,
		renditions:  renditions,
		events:      events,
		publisher:   publisher,
		retryBudget: retryBudget,
	}
}

// RetryBudget 單一 rendition 的嘗試上限
func (o *Orchestrator) RetryBudget() int {
	return o.retryBudget
}

// appendEvent 事件明細為 best-effort，寫入失敗不阻擋流水線
func (o *Orchestrator) appendEvent(ctx context.Context, ev *domain.JobEvent) {
	ev.At = time.Now()
	if err := o.events.Append(ctx, ev); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 事件寫入失敗: %v", ev.JobID, err))
	}
}

// MarkProcessing worker 認領 job 時調用，回傳認領當下的狀態：
//   - queued      → 轉移到 processing
//   - processing  → redelivery，沿用既有記錄續跑
//   - cancelling  → 呼叫端應走取消清理
//   - 終態        → 重複投遞，呼叫端直接 ack
func (o *Orchestrator) MarkProcessing(ctx context.Context, job domain.JobDescriptor) (domain.JobState, error) {
	row, err := o.status.GetByJobID(job.JobID)
	if err != nil {
		return "", domain.NewInfrastructure("status_store_unavailable", err)
	}

	state := domain.JobState(row.State)
	if state.Terminal() || state == domain.JobCancelling {
		return state, nil
	}

	if state == domain.JobQueued {
		if err := o.status.UpdateState(job.JobID, domain.JobProcessing, ""); err != nil {
			return "", domain.NewInfrastructure("status_store_unavailable", err)
		}
		o.appendEvent(ctx, &domain.JobEvent{
			JobID:   job.JobID,
			VideoID: job.VideoID,
			Type:    domain.EventStateChanged,
			State:   string(domain.JobProcessing),
		})
		return domain.JobProcessing, nil
	}
	return state, nil
}

// RenditionStates 取回 job 各 rendition 的持久記錄，redelivery 據此跳過已完成者
func (o *Orchestrator) RenditionStates(ctx context.Context, jobID string) (map[string]domain.RenditionRecord, error) {
	recs, err := o.renditions.ListByJob(ctx, jobID)
	if err != nil {
		return nil, domain.NewInfrastructure("rendition_store_unavailable", err)
	}
	byProfile := make(map[string]domain.RenditionRecord, len(recs))
	for _, rec := range recs {
		byProfile[rec.Profile] = rec
	}
	return byProfile, nil
}

// ReportSourceProbe 保存封面與時長，發布時一併帶出
func (o *Orchestrator) ReportSourceProbe(ctx context.Context, job domain.JobDescriptor, coverPath string, duration float64) error {
	coverKey := ""
	if coverPath != "" {
		key, err := o.publisher.StoreCover(ctx, job.VideoID, coverPath)
		if err != nil {
			return err
		}
		coverKey = key
	}
	if err := o.status.SaveProbe(job.JobID, coverKey, duration); err != nil {
		return domain.NewInfrastructure("status_store_unavailable", err)
	}
	return nil
}

// ReportRenditionDone worker 回報單一 rendition 轉碼成功
// 先把產物持久化到 store、落盤 done 記錄，再重新評估整個 set；
// job 已在終態時記為 stale report，不做任何事
func (o *Orchestrator) ReportRenditionDone(ctx context.Context, job domain.JobDescriptor, profile, localPath string) (domain.JobState, error) {
	row, err := o.status.GetByJobID(job.JobID)
	if err != nil {
		return "", domain.NewInfrastructure("status_store_unavailable", err)
	}
	state := domain.JobState(row.State)
	if state.Terminal() || state == domain.JobCancelling {
		o.logStaleReport(ctx, job, profile, state)
		return state, nil
	}

	objectKey, checksum, size, err := o.publisher.StoreRendition(ctx, job.VideoID, profile, localPath)
	if err != nil {
		return state, err
	}

	rec, err := o.renditions.Get(ctx, job.JobID, profile)
	attempts := 1
	if err == nil && rec != nil {
		attempts = rec.Attempts + 1
	}
	if err := o.renditions.Upsert(ctx, &domain.RenditionRecord{
		JobID:     job.JobID,
		VideoID:   job.VideoID,
		Profile:   profile,
		ObjectKey: objectKey,
		SizeBytes: size,
		Checksum:  checksum,
		Status:    domain.RenditionDone,
		Attempts:  attempts,
	}); err != nil {
		return state, domain.NewInfrastructure("rendition_store_unavailable", err)
	}

	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventRenditionDone,
		Profile: profile,
		Attempt: attempts,
	})

	return o.Evaluate(ctx, job)
}

// ReportRenditionFailure worker 回報單次轉碼嘗試失敗
// 永久性失敗或預算耗盡立即讓 job 進 failed 終態；否則記錄後交由 worker 退避重試。
// 回傳 job 當前狀態與該 rendition 的累計嘗試數
func (o *Orchestrator) ReportRenditionFailure(ctx context.Context, job domain.JobDescriptor, profile string, ferr error) (domain.JobState, int, error) {
	row, err := o.status.GetByJobID(job.JobID)
	if err != nil {
		return "", 0, domain.NewInfrastructure("status_store_unavailable", err)
	}
	state := domain.JobState(row.State)
	if state.Terminal() || state == domain.JobCancelling {
		o.logStaleReport(ctx, job, profile, state)
		return state, 0, nil
	}

	class := domain.Classify(ferr)
	cause := domain.CauseOf(ferr)

	rec, gerr := o.renditions.Get(ctx, job.JobID, profile)
	attempts := 1
	if gerr == nil && rec != nil {
		attempts = rec.Attempts + 1
	}

	exhausted := class == domain.FailurePermanent || attempts >= o.retryBudget
	recStatus := domain.RenditionPending
	if exhausted {
		recStatus = domain.RenditionFailed
	}

	if err := o.renditions.Upsert(ctx, &domain.RenditionRecord{
		JobID:     job.JobID,
		VideoID:   job.VideoID,
		Profile:   profile,
		Status:    recStatus,
		Attempts:  attempts,
		LastError: ferr.Error(),
	}); err != nil {
		return state, attempts, domain.NewInfrastructure("rendition_store_unavailable", err)
	}

	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventRenditionAttemptFailed,
		Profile: profile,
		Attempt: attempts,
		Cause:   cause,
		Detail:  ferr.Error(),
	})

	if !exhausted {
		return state, attempts, nil
	}

	// 任一 rendition 進 failed，整個 job 進 failed；使用者只看到泛化原因
	if err := o.status.UpdateState(job.JobID, domain.JobFailed, cause); err != nil {
		return state, attempts, domain.NewInfrastructure("status_store_unavailable", err)
	}
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventStateChanged,
		State:   string(domain.JobFailed),
		Cause:   cause,
	})
	logger.Log.Info("job 進入 failed 終態",
		zap.String("job_id", job.JobID),
		zap.String("profile", profile),
		zap.String("cause", cause))
	return domain.JobFailed, attempts, nil
}

// Evaluate 從 rendition set 的持久記錄重新計算 job 結果
// 請求的每個 profile 都有 done 記錄才發布並進 ready；判定不依賴事件計數，
// 因此 redelivery 重複回報、或發布中途崩潰後重跑，結果都收斂到同一個終態
func (o *Orchestrator) Evaluate(ctx context.Context, job domain.JobDescriptor) (domain.JobState, error) {
	row, err := o.status.GetByJobID(job.JobID)
	if err != nil {
		return "", domain.NewInfrastructure("status_store_unavailable", err)
	}
	state := domain.JobState(row.State)
	if state == domain.JobReady {
		// ready 後完成事件若尚未確認送達（崩潰或 broker 失敗），redelivery 在這裡補發
		return state, o.resendCompletion(ctx, row)
	}
	if state != domain.JobProcessing {
		return state, nil
	}

	byProfile, err := o.RenditionStates(ctx, job.JobID)
	if err != nil {
		return state, err
	}

	done := make([]domain.RenditionRecord, 0, len(job.Renditions))
	for _, profile := range job.Renditions {
		rec, ok := byProfile[profile]
		if !ok || rec.Status != domain.RenditionDone {
			// set 還不完整，維持 processing
			return state, nil
		}
		done = append(done, rec)
	}

	manifest, err := o.publisher.ConfirmAndRecord(ctx, row, done)
	if err != nil {
		return state, err
	}

	if err := o.status.UpdateState(job.JobID, domain.JobReady, ""); err != nil {
		return state, domain.NewInfrastructure("status_store_unavailable", err)
	}
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventPublished,
	})
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventStateChanged,
		State:   string(domain.JobReady),
	})

	// 狀態已落盤為 ready，事件送出失敗交由 redelivery 補發
	if err := o.publisher.EmitCompletion(ctx, row, manifest); err != nil {
		return domain.JobReady, err
	}
	o.markEventEmitted(job.JobID)

	logger.Log.Info("job 發布完成",
		zap.String("job_id", job.JobID),
		zap.Uint("video_id", job.VideoID),
		zap.Int("renditions", len(done)))
	return domain.JobReady, nil
}

// resendCompletion 從落盤的 manifest 補發完成事件，下游以 video_id 去重
func (o *Orchestrator) resendCompletion(ctx context.Context, row *domain.TranscodeJob) error {
	if row.EventEmitted {
		return nil
	}

	var manifest map[string]string
	if row.Manifest != "" {
		if err := json.Unmarshal([]byte(row.Manifest), &manifest); err != nil {
			return domain.NewPermanent("manifest_corrupt", err)
		}
	}
	if err := o.publisher.EmitCompletion(ctx, row, manifest); err != nil {
		return err
	}
	o.markEventEmitted(row.JobID)

	logger.Log.Info("完成事件已補發",
		zap.String("job_id", row.JobID),
		zap.Uint("video_id", row.VideoID))
	return nil
}

// markEventEmitted 落盤失敗僅記錄：下次 redelivery 至多重送一次，事件本身冪等
func (o *Orchestrator) markEventEmitted(jobID string) {
	if err := o.status.MarkEventEmitted(jobID); err != nil {
		logger.Log.Warn(fmt.Sprintf("job[%s] 記錄事件送達失敗: %v", jobID, err))
	}
}

// RequestCancel 影片刪除時觸發：in-flight job 標記 cancelling，
// 之後 worker 的回報一律視為 stale，清理由持有 job 的 worker 完成
func (o *Orchestrator) RequestCancel(ctx context.Context, videoID uint) error {
	row, err := o.status.GetByVideoID(videoID)
	if err != nil {
		return err
	}
	state := domain.JobState(row.State)
	if state.Terminal() || state == domain.JobCancelling {
		return nil
	}

	if err := o.status.UpdateState(row.JobID, domain.JobCancelling, "cancelled"); err != nil {
		return domain.NewInfrastructure("status_store_unavailable", err)
	}
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   row.JobID,
		VideoID: videoID,
		Type:    domain.EventStateChanged,
		State:   string(domain.JobCancelling),
	})
	return nil
}

// FinishCancel 清除已寫入的 rendition 物件並進 cancelled 終態
func (o *Orchestrator) FinishCancel(ctx context.Context, job domain.JobDescriptor) (domain.JobState, error) {
	recs, err := o.renditions.ListByJob(ctx, job.JobID)
	if err != nil {
		return "", domain.NewInfrastructure("rendition_store_unavailable", err)
	}
	if err := o.publisher.Discard(ctx, recs); err != nil {
		return "", err
	}

	if err := o.status.UpdateState(job.JobID, domain.JobCancelled, "cancelled"); err != nil {
		return "", domain.NewInfrastructure("status_store_unavailable", err)
	}
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventStateChanged,
		State:   string(domain.JobCancelled),
	})
	logger.Log.Info("job 已取消並清理",
		zap.String("job_id", job.JobID))
	return domain.JobCancelled, nil
}

func (o *Orchestrator) logStaleReport(ctx context.Context, job domain.JobDescriptor, profile string, state domain.JobState) {
	logger.Log.Warn("忽略終態後的過期回報",
		zap.String("job_id", job.JobID),
		zap.String("profile", profile),
		zap.String("state", string(state)))
	o.appendEvent(ctx, &domain.JobEvent{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		Type:    domain.EventStaleReport,
		Profile: profile,
		State:   string(state),
	})
}
