package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/internal/pipeline/repository"
	"video_transcode_pipeline/pkg/database"
	errprocess "video_transcode_pipeline/pkg/err"
	"video_transcode_pipeline/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ResultPublisher definition 轉碼產物的持久化與對外發布
// 發布決策由 Orchestrator 下達；這裡負責讓「對外可見」這件事冪等：
// object key 由內容決定，重複寫入收斂到同一份 bytes，事件至少一次送達
type ResultPublisher interface {
	// StoreRendition 將本地轉碼產物以內容尋址 key 寫入 rendition store
	StoreRendition(ctx context.Context, videoID uint, profile, localPath string) (objectKey, checksum string, size int64, err error)
	// StoreCover 將封面圖寫入 rendition store
	StoreCover(ctx context.Context, videoID uint, localPath string) (string, error)
	// ConfirmAndRecord 確認全部 rendition 均已落 store，並寫入 manifest 到狀態記錄
	ConfirmAndRecord(ctx context.Context, job *domain.TranscodeJob, recs []domain.RenditionRecord) (map[string]string, error)
	// EmitCompletion 發出完成事件，下游以 video_id 去重
	EmitCompletion(ctx context.Context, job *domain.TranscodeJob, manifest map[string]string) error
	// Discard 移除取消的 job 已寫入的 rendition 物件
	Discard(ctx context.Context, recs []domain.RenditionRecord) error
}

type resultPublisher struct {
	store  database.MinIOClientRepo
	status repository.StatusRepo
	events database.KafkaEventWriter
}

// NewResultPublisher create a ResultPublisher
func NewResultPublisher(store database.MinIOClientRepo, status repository.StatusRepo, events database.KafkaEventWriter) ResultPublisher {
	return &resultPublisher{store: store, status: status, events: events}
}

// StoreRendition 計算產物 checksum、導出決定性 key，物件已存在時跳過上傳
func (p *resultPublisher) StoreRendition(ctx context.Context, videoID uint, profile, localPath string) (string, string, int64, error) {
	checksum, size, err := domain.FileChecksum(localPath)
	if err != nil {
		return "", "", 0, domain.NewTransient("checksum_failed", err)
	}

	objectKey := domain.RenditionObjectKey(videoID, profile, checksum)
	exists, err := p.store.StatObject(ctx, objectKey)
	if err != nil {
		return "", "", 0, domain.NewInfrastructure("store_unavailable", err)
	}
	if exists {
		// 前一次嘗試已寫入同內容，冪等跳過
		logger.Log.Debug("rendition 物件已存在，跳過上傳",
			zap.String("object_key", objectKey))
		return objectKey, checksum, size, nil
	}

	if err := p.store.UploadFile(ctx, objectKey, localPath, "video/mp4"); err != nil {
		return "", "", 0, domain.NewInfrastructure("store_unavailable", err)
	}
	return objectKey, checksum, size, nil
}

func (p *resultPublisher) StoreCover(ctx context.Context, videoID uint, localPath string) (string, error) {
	checksum, _, err := domain.FileChecksum(localPath)
	if err != nil {
		return "", domain.NewTransient("checksum_failed", err)
	}

	objectKey := domain.CoverObjectKey(videoID, checksum)
	exists, err := p.store.StatObject(ctx, objectKey)
	if err != nil {
		return "", domain.NewInfrastructure("store_unavailable", err)
	}
	if !exists {
		if err := p.store.UploadFile(ctx, objectKey, localPath, "image/jpeg"); err != nil {
			return "", domain.NewInfrastructure("store_unavailable", err)
		}
	}
	return objectKey, nil
}

// ConfirmAndRecord 發布前的最後閘門：逐一確認 object 存在才寫 manifest。
// 任何一個缺席都拒絕發布，寧可讓 redelivery 重走也不發布缺漏的 set
func (p *resultPublisher) ConfirmAndRecord(ctx context.Context, job *domain.TranscodeJob, recs []domain.RenditionRecord) (map[string]string, error) {
	manifest := make(map[string]string, len(recs))
	for _, rec := range recs {
		if rec.Status != domain.RenditionDone || rec.ObjectKey == "" {
			return nil, errprocess.Set(fmt.Sprintf("rendition [%s] 尚未完成，無法發布 job[%s]", rec.Profile, job.JobID))
		}
		exists, err := p.store.StatObject(ctx, rec.ObjectKey)
		if err != nil {
			return nil, domain.NewInfrastructure("store_unavailable", err)
		}
		if !exists {
			return nil, domain.NewInfrastructure("rendition_missing",
				fmt.Errorf("object [%s] 不存在於 store", rec.ObjectKey))
		}
		manifest[rec.Profile] = rec.ObjectKey
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, domain.NewPermanent("manifest_encode", err)
	}
	if err := p.status.SaveManifest(job.JobID, string(data), job.CoverKey, job.Duration); err != nil {
		return nil, domain.NewInfrastructure("status_store_unavailable", err)
	}
	return manifest, nil
}

// EmitCompletion at-least-once 發送完成事件；送出失敗由重投遞補發
func (p *resultPublisher) EmitCompletion(ctx context.Context, job *domain.TranscodeJob, manifest map[string]string) error {
	ev := domain.CompletionEvent{
		JobID:    job.JobID,
		VideoID:  job.VideoID,
		Manifest: manifest,
		CoverKey: job.CoverKey,
		Duration: job.Duration,
		At:       time.Now(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return domain.NewPermanent("event_encode", err)
	}

	err = p.events.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", job.VideoID)),
		Value: data,
	})
	if err != nil {
		return domain.NewInfrastructure("event_broker_unavailable", err)
	}

	logger.Log.Info("完成事件已發送",
		zap.String("job_id", job.JobID),
		zap.Uint("video_id", job.VideoID))
	return nil
}

// Discard 清除已寫入的物件；刪除失敗僅記錄，不阻擋取消流程
func (p *resultPublisher) Discard(ctx context.Context, recs []domain.RenditionRecord) error {
	for _, rec := range recs {
		if rec.ObjectKey == "" {
			continue
		}
		if err := p.store.RemoveObject(ctx, rec.ObjectKey); err != nil {
			logger.Log.Warn(fmt.Sprintf("移除物件 [%s] 失敗: %v", rec.ObjectKey, err))
		}
	}
	return nil
}
