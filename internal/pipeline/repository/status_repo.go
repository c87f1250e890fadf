package repository

import (
	"video_transcode_pipeline/internal/pipeline/domain"

	"gorm.io/gorm"
)

// StatusRepo definition job 狀態的持久存取（Status Tracker）
// 無業務邏輯；JobState 欄位僅由 Orchestrator 寫入（single-writer），其他人只讀
type StatusRepo interface {
	AutoMigrate() error
	Create(job *domain.TranscodeJob) error
	Delete(job *domain.TranscodeJob) error
	GetByJobID(jobID string) (*domain.TranscodeJob, error)
	GetByVideoID(videoID uint) (*domain.TranscodeJob, error)
	FindByDedupToken(token string) (*domain.TranscodeJob, error)
	UpdateState(jobID string, state domain.JobState, cause string) error
	SaveManifest(jobID, manifest, coverKey string, duration float64) error
	SaveProbe(jobID, coverKey string, duration float64) error
	MarkEventEmitted(jobID string) error
}

type statusRepo struct {
	db *gorm.DB
}

// NewStatusRepo create StatusRepo
func NewStatusRepo(db *gorm.DB) StatusRepo {
	return &statusRepo{db: db}
}

func (r *statusRepo) AutoMigrate() error {
	if err := r.db.AutoMigrate(&domain.TranscodeJob{}); err != nil {
		return err
	}
	// 同一支影片同時只允許一筆未完結 job，並發提交在這個部分唯一索引上撞開
	return r.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uidx_transcode_jobs_active_video
		ON transcode_jobs (video_id)
		WHERE state IN ('queued', 'processing', 'cancelling')`).Error
}

func (r *statusRepo) Create(job *domain.TranscodeJob) error {
	return r.db.Create(job).Error
}

// Delete 移除 job 記錄（僅在 enqueue 失敗的回滾使用，流水線本身不銷毀狀態）
func (r *statusRepo) Delete(job *domain.TranscodeJob) error {
	return r.db.Delete(job).Error
}

func (r *statusRepo) GetByJobID(jobID string) (*domain.TranscodeJob, error) {
	var j domain.TranscodeJob
	if err := r.db.Where("job_id = ?", jobID).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// GetByVideoID 取得該影片最近一次的 job 記錄
func (r *statusRepo) GetByVideoID(videoID uint) (*domain.TranscodeJob, error) {
	var j domain.TranscodeJob
	if err := r.db.Where("video_id = ?", videoID).Order("created_at DESC").First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *statusRepo) FindByDedupToken(token string) (*domain.TranscodeJob, error) {
	var j domain.TranscodeJob
	if err := r.db.Where("dedup_token = ?", token).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *statusRepo) UpdateState(jobID string, state domain.JobState, cause string) error {
	return r.db.Model(&domain.TranscodeJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{"state": string(state), "cause": cause}).Error
}

func (r *statusRepo) SaveManifest(jobID, manifest, coverKey string, duration float64) error {
	return r.db.Model(&domain.TranscodeJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{"manifest": manifest, "cover_key": coverKey, "duration": duration}).Error
}

// SaveProbe 保存探測到的封面與時長，發布前先行寫入
func (r *statusRepo) SaveProbe(jobID, coverKey string, duration float64) error {
	return r.db.Model(&domain.TranscodeJob{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{"cover_key": coverKey, "duration": duration}).Error
}

// MarkEventEmitted 記下完成事件已送達，redelivery 不再補發
func (r *statusRepo) MarkEventEmitted(jobID string) error {
	return r.db.Model(&domain.TranscodeJob{}).
		Where("job_id = ?", jobID).
		Update("event_emitted", true).Error
}
