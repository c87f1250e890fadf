package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/queue"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/database"
	errprocess "video_transcode_pipeline/pkg/err"
	"video_transcode_pipeline/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrJobInFlight 同一支影片已有未完結的轉碼 job
var ErrJobInFlight = errors.New("前一個轉碼 job 尚未結束")

// ErrJobNotFound 找不到對應的 job 記錄
var ErrJobNotFound = errors.New("找不到轉碼 job")

const (
	// presignExpiry 播放連結效期
	presignExpiry = 15 * time.Minute
	// statusCacheTTL 終態查詢結果的快取時長，須短於 presignExpiry
	statusCacheTTL = 5 * time.Minute
)

func statusCacheKey(videoID uint) string {
	return fmt.Sprintf("transcode_status:%d", videoID)
}

// PipelineUseCase 這裡封裝了對外提供的應用服務
type PipelineUseCase interface {
	SubmitTranscodeJob(ctx context.Context, req domain.SubmitJobReq) (*domain.SubmitJobRes, error)
	GetTranscodeStatus(ctx context.Context, videoID uint) (*domain.TranscodeStatusRes, error)
	CancelVideoJob(ctx context.Context, videoID uint) error
	ListJobEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error)
}

type pipelineUseCase struct {
	StatusRepo    repository.StatusRepo
	RenditionRepo repository.RenditionRepo
	EventRepo     repository.JobEventRepo
	JobQueue      queue.JobPublisher
	Orchestrator  *Orchestrator
	Store         database.MinIOClientRepo
	StatusCache   database.RedisRepository[domain.TranscodeStatusRes]
}

// NewPipelineUseCase 建立一個新的 PipelineUseCase
func NewPipelineUseCase(
	status repository.StatusRepo,
	renditions repository.RenditionRepo,
	events repository.JobEventRepo,
	jobQueue queue.JobPublisher,
	orch *Orchestrator,
	store database.MinIOClientRepo,
	statusCache database.RedisRepository[domain.TranscodeStatusRes],
) PipelineUseCase {
	return &pipelineUseCase{
		StatusRepo:    status,
		RenditionRepo: renditions,
		EventRepo:     events,
		JobQueue:      jobQueue,
		Orchestrator:  orch,
		Store:         store,
		StatusCache:   statusCache,
	}
}

// SubmitTranscodeJob 上傳完成後提交轉碼工作
// 先落狀態記錄再入列；broker 不可用時回滾記錄並立即回報錯誤（fail fast），
// 絕不讓已入庫的原始檔默默掉出流水線。帶 dedup token 的重複提交回傳既有 job
func (u *pipelineUseCase) SubmitTranscodeJob(ctx context.Context, req domain.SubmitJobReq) (*domain.SubmitJobRes, error) {
	if err := domain.ValidateProfiles(req.Renditions); err != nil {
		return nil, err
	}
	if req.RawAssetKey == "" {
		return nil, errprocess.Set(fmt.Sprintf("video[%d] 缺少原始檔 object key", req.VideoID))
	}

	if req.DedupToken != "" {
		existing, err := u.StatusRepo.FindByDedupToken(req.DedupToken)
		if err == nil {
			logger.Log.Info("重複提交，回傳既有 job",
				zap.Uint("video_id", req.VideoID),
				zap.String("job_id", existing.JobID))
			return &domain.SubmitJobRes{
				JobID:   existing.JobID,
				VideoID: existing.VideoID,
				State:   domain.JobState(existing.State),
			}, nil
		}
		// 查不到才往下建新 job；store 連不上時不能假設「沒有既有 job」硬建
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errprocess.Set(fmt.Sprintf("video[%d] 查詢 dedup token 失敗 : %v", req.VideoID, err))
		}
	}

	prev, err := u.StatusRepo.GetByVideoID(req.VideoID)
	if err == nil {
		if !domain.JobState(prev.State).Terminal() {
			return nil, ErrJobInFlight
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errprocess.Set(fmt.Sprintf("video[%d] 查詢既有 job 失敗 : %v", req.VideoID, err))
	}

	job := &domain.TranscodeJob{
		JobID:       uuid.New().String(),
		VideoID:     req.VideoID,
		UploaderID:  req.UploaderID,
		RawAssetKey: req.RawAssetKey,
		State:       string(domain.JobQueued),
		DedupToken:  req.DedupToken,
		Renditions:  strings.Join(req.Renditions, ","),
	}
	if err := u.StatusRepo.Create(job); err != nil {
		// check-then-act 之外由唯一索引守住；並發提交撞上時回頭查先到者，結果一致
		if req.DedupToken != "" {
			if existing, ferr := u.StatusRepo.FindByDedupToken(req.DedupToken); ferr == nil {
				return &domain.SubmitJobRes{
					JobID:   existing.JobID,
					VideoID: existing.VideoID,
					State:   domain.JobState(existing.State),
				}, nil
			}
		}
		if prev, ferr := u.StatusRepo.GetByVideoID(req.VideoID); ferr == nil && !domain.JobState(prev.State).Terminal() {
			return nil, ErrJobInFlight
		}
		errMsg := fmt.Sprintf("video[%d] 建立 job 記錄失敗 : %v", req.VideoID, err)
		return nil, errprocess.Set(errMsg)
	}

	descriptor := domain.JobDescriptor{
		JobID:       job.JobID,
		VideoID:     job.VideoID,
		RawAssetKey: job.RawAssetKey,
		Renditions:  req.Renditions,
		CreatedAt:   time.Now(),
	}
	if err := u.JobQueue.Enqueue(ctx, descriptor); err != nil {
		// 入列失敗回滾記錄，讓呼叫端以可重試錯誤重新提交
		if derr := u.StatusRepo.Delete(job); derr != nil {
			logger.Log.Error(fmt.Sprintf("job[%s] 入列失敗後回滾記錄失敗: %v", job.JobID, derr))
		}
		errMsg := fmt.Sprintf("video[%d] 轉碼工作入列失敗 : %v", req.VideoID, err)
		return nil, errprocess.Set(errMsg)
	}

	// 新 job 入列後舊的終態查詢結果立即失效
	if err := u.StatusCache.Del(ctx, statusCacheKey(req.VideoID)); err != nil {
		logger.Log.Warn(fmt.Sprintf("video[%d] 清除狀態快取失敗: %v", req.VideoID, err))
	}

	logger.Log.Info("轉碼 job 已入列",
		zap.String("job_id", job.JobID),
		zap.Uint("video_id", job.VideoID),
		zap.String("renditions", job.Renditions))
	return &domain.SubmitJobRes{
		JobID:   job.JobID,
		VideoID: job.VideoID,
		State:   domain.JobQueued,
	}, nil
}

// GetTranscodeStatus 查詢影片最近一次 job 的狀態與 rendition 進度
// 終態結果不再變動，短暫快取以降低查詢壓力；ready 的 job 附帶 presigned 播放連結
func (u *pipelineUseCase) GetTranscodeStatus(ctx context.Context, videoID uint) (*domain.TranscodeStatusRes, error) {
	if cached, err := u.StatusCache.Get(ctx, statusCacheKey(videoID)); err == nil {
		return &cached, nil
	}

	job, err := u.StatusRepo.GetByVideoID(videoID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, errprocess.Set(fmt.Sprintf("video[%d] 查詢 job 失敗 : %v", videoID, err))
	}

	recs, err := u.RenditionRepo.ListByJob(ctx, job.JobID)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("job[%s] 查詢 rendition 失敗 : %v", job.JobID, err))
	}

	var manifest map[string]string
	if job.Manifest != "" {
		if err := json.Unmarshal([]byte(job.Manifest), &manifest); err != nil {
			logger.Log.Warn(fmt.Sprintf("job[%s] manifest 解析失敗: %v", job.JobID, err))
		}
	}

	res := &domain.TranscodeStatusRes{
		VideoID:    job.VideoID,
		JobID:      job.JobID,
		State:      publicState(domain.JobState(job.State)),
		Cause:      job.Cause,
		Renditions: recs,
		Manifest:   manifest,
		CoverKey:   job.CoverKey,
		Duration:   job.Duration,
	}

	if domain.JobState(job.State) == domain.JobReady {
		res.PlayURLs = u.presignManifest(ctx, job.JobID, manifest)
		if job.CoverKey != "" {
			if coverURL, err := u.Store.PresignGetURL(ctx, job.CoverKey, presignExpiry); err == nil {
				res.CoverURL = coverURL
			} else {
				logger.Log.Warn(fmt.Sprintf("job[%s] 封面 presign 失敗: %v", job.JobID, err))
			}
		}
	}

	if domain.JobState(job.State).Terminal() {
		if err := u.StatusCache.Set(ctx, statusCacheKey(videoID), *res, statusCacheTTL); err != nil {
			logger.Log.Warn(fmt.Sprintf("video[%d] 寫入狀態快取失敗: %v", videoID, err))
		}
	}
	return res, nil
}

// presignManifest 為 manifest 中的每個 object 生成播放連結；個別失敗不影響查詢本身
func (u *pipelineUseCase) presignManifest(ctx context.Context, jobID string, manifest map[string]string) map[string]string {
	if len(manifest) == 0 {
		return nil
	}
	playURLs := make(map[string]string, len(manifest))
	for profile, objectKey := range manifest {
		playURL, err := u.Store.PresignGetURL(ctx, objectKey, presignExpiry)
		if err != nil {
			logger.Log.Warn(fmt.Sprintf("job[%s] rendition [%s] presign 失敗: %v", jobID, profile, err))
			continue
		}
		playURLs[profile] = playURL
	}
	return playURLs
}

// CancelVideoJob 影片刪除時取消 in-flight 的轉碼 job
func (u *pipelineUseCase) CancelVideoJob(ctx context.Context, videoID uint) error {
	err := u.Orchestrator.RequestCancel(ctx, videoID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	return err
}

// ListJobEvents 取回 job 的事件明細，供運維診斷
func (u *pipelineUseCase) ListJobEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	return u.EventRepo.ListByJob(ctx, jobID)
}

// publicState 對外只呈現四態，取消中/已取消泛化為 failed
func publicState(s domain.JobState) domain.JobState {
	switch s {
	case domain.JobCancelling, domain.JobCancelled:
		return domain.JobFailed
	default:
		return s
	}
}
