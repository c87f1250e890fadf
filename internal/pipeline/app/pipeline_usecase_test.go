package app

import (
	"context"
	"errors"
	"testing"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

func newTestUseCase() (PipelineUseCase, *MockStatusRepo, *MockRenditionRepo, *MockJobPublisher, *MockMinIOClient, *MockStatusCache) {
	logger.SetNewNop()
	status := new(MockStatusRepo)
	renditions := new(MockRenditionRepo)
	events := new(MockJobEventRepo)
	events.On("Append", mock.Anything, mock.Anything).Return(nil)
	jobQueue := new(MockJobPublisher)
	store := new(MockMinIOClient)
	cache := new(MockStatusCache)
	orch := NewOrchestrator(status, renditions, events, new(MockResultPublisher), 3)
	usecase := NewPipelineUseCase(status, renditions, events, jobQueue, orch, store, cache)
	return usecase, status, renditions, jobQueue, store, cache
}

// 測試 SubmitTranscodeJob
func TestSubmitTranscodeJob(t *testing.T) {
	req := domain.SubmitJobReq{
		VideoID:     7,
		UploaderID:  "uploader-1",
		RawAssetKey: "original/7/raw.mp4",
		Renditions:  []string{"480p", "720p"},
	}

	t.Run("成功提交轉碼工作", func(t *testing.T) {
		usecase, status, _, jobQueue, _, cache := newTestUseCase()
		status.On("GetByVideoID", uint(7)).Return(nil, gorm.ErrRecordNotFound).Once()
		status.On("Create", mock.MatchedBy(func(job *domain.TranscodeJob) bool {
			return job.VideoID == 7 && job.State == string(domain.JobQueued) && job.Renditions == "480p,720p"
		})).Return(nil).Once()
		jobQueue.On("Enqueue", mock.Anything, mock.MatchedBy(func(d domain.JobDescriptor) bool {
			return d.VideoID == 7 && len(d.Renditions) == 2 && d.JobID != ""
		})).Return(nil).Once()
		cache.On("Del", mock.Anything, "transcode_status:7").Return(nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), req)
		assert.NoError(t, err)
		assert.NotNil(t, res)
		assert.Equal(t, domain.JobQueued, res.State)
		assert.NotEmpty(t, res.JobID)
		status.AssertExpectations(t)
		jobQueue.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("帶 dedup token 的重複提交回傳既有 job", func(t *testing.T) {
		usecase, status, _, jobQueue, _, _ := newTestUseCase()
		dedupReq := req
		dedupReq.DedupToken = "token-1"

		status.On("FindByDedupToken", "token-1").
			Return(&domain.TranscodeJob{JobID: "job-1", VideoID: 7, State: string(domain.JobProcessing)}, nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), dedupReq)
		assert.NoError(t, err)
		assert.Equal(t, "job-1", res.JobID)
		assert.Equal(t, domain.JobProcessing, res.State)
		status.AssertNotCalled(t, "Create", mock.Anything)
		jobQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("dedup 查詢失敗時拒絕提交而非當作沒有既有 job", func(t *testing.T) {
		usecase, status, _, jobQueue, _, _ := newTestUseCase()
		dedupReq := req
		dedupReq.DedupToken = "token-1"

		status.On("FindByDedupToken", "token-1").
			Return(nil, errors.New("connection refused")).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), dedupReq)
		assert.Error(t, err)
		assert.Nil(t, res)
		status.AssertNotCalled(t, "Create", mock.Anything)
		jobQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("同影片已有未完結的 job 時拒絕", func(t *testing.T) {
		usecase, status, _, jobQueue, _, _ := newTestUseCase()
		status.On("GetByVideoID", uint(7)).
			Return(&domain.TranscodeJob{JobID: "job-1", State: string(domain.JobProcessing)}, nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), req)
		assert.ErrorIs(t, err, ErrJobInFlight)
		assert.Nil(t, res)
		jobQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("並發提交撞上唯一索引時回傳先到者的 job", func(t *testing.T) {
		usecase, status, _, jobQueue, _, _ := newTestUseCase()
		dedupReq := req
		dedupReq.DedupToken = "token-1"

		// 檢查當下還查不到，寫入時撞上先一步寫入的並發提交
		status.On("FindByDedupToken", "token-1").Return(nil, gorm.ErrRecordNotFound).Once()
		status.On("GetByVideoID", uint(7)).Return(nil, gorm.ErrRecordNotFound).Once()
		status.On("Create", mock.Anything).
			Return(errors.New("duplicate key value violates unique constraint")).Once()
		status.On("FindByDedupToken", "token-1").
			Return(&domain.TranscodeJob{JobID: "job-1", VideoID: 7, State: string(domain.JobQueued)}, nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), dedupReq)
		assert.NoError(t, err)
		assert.Equal(t, "job-1", res.JobID)
		jobQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		status.AssertExpectations(t)
	})

	t.Run("並發提交撞上同影片唯一索引時回報 in-flight", func(t *testing.T) {
		usecase, status, _, jobQueue, _, _ := newTestUseCase()
		status.On("GetByVideoID", uint(7)).Return(nil, gorm.ErrRecordNotFound).Once()
		status.On("Create", mock.Anything).
			Return(errors.New("duplicate key value violates unique constraint")).Once()
		status.On("GetByVideoID", uint(7)).
			Return(&domain.TranscodeJob{JobID: "job-1", State: string(domain.JobQueued)}, nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), req)
		assert.ErrorIs(t, err, ErrJobInFlight)
		assert.Nil(t, res)
		jobQueue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("入列失敗時回滾記錄並立即回報", func(t *testing.T) {
		usecase, status, _, jobQueue, _, cache := newTestUseCase()
		status.On("GetByVideoID", uint(7)).Return(nil, gorm.ErrRecordNotFound).Once()
		status.On("Create", mock.Anything).Return(nil).Once()
		jobQueue.On("Enqueue", mock.Anything, mock.Anything).
			Return(domain.NewInfrastructure("queue_unavailable", errors.New("connection refused"))).Once()
		status.On("Delete", mock.Anything).Return(nil).Once()

		res, err := usecase.SubmitTranscodeJob(context.Background(), req)
		assert.Error(t, err)
		assert.Nil(t, res)
		status.AssertExpectations(t)
		cache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})

	t.Run("未知 profile 直接拒絕", func(t *testing.T) {
		usecase, status, _, _, _, _ := newTestUseCase()
		badReq := req
		badReq.Renditions = []string{"4k"}

		res, err := usecase.SubmitTranscodeJob(context.Background(), badReq)
		assert.Error(t, err)
		assert.Nil(t, res)
		status.AssertNotCalled(t, "Create", mock.Anything)
	})
}

// 測試 GetTranscodeStatus
func TestGetTranscodeStatus(t *testing.T) {
	t.Run("ready 的 job 回傳 manifest 與播放連結並寫入快取", func(t *testing.T) {
		usecase, status, renditions, _, store, cache := newTestUseCase()
		cache.On("Get", mock.Anything, "transcode_status:7").
			Return(domain.TranscodeStatusRes{}, errors.New("redis: nil")).Once()
		status.On("GetByVideoID", uint(7)).Return(&domain.TranscodeJob{
			JobID:    "job-1",
			VideoID:  7,
			State:    string(domain.JobReady),
			Manifest: `{"480p":"renditions/7/480p/aaa.mp4"}`,
			CoverKey: "covers/7/ccc.jpg",
			Duration: 12.5,
		}, nil).Once()
		renditions.On("ListByJob", mock.Anything, "job-1").Return([]domain.RenditionRecord{
			{JobID: "job-1", Profile: "480p", Status: domain.RenditionDone},
		}, nil).Once()
		store.On("PresignGetURL", mock.Anything, "renditions/7/480p/aaa.mp4", presignExpiry).
			Return("https://store.local/renditions/7/480p/aaa.mp4?sig=x", nil).Once()
		store.On("PresignGetURL", mock.Anything, "covers/7/ccc.jpg", presignExpiry).
			Return("https://store.local/covers/7/ccc.jpg?sig=x", nil).Once()
		cache.On("Set", mock.Anything, "transcode_status:7", mock.Anything, statusCacheTTL).Return(nil).Once()

		res, err := usecase.GetTranscodeStatus(context.Background(), 7)
		assert.NoError(t, err)
		assert.Equal(t, domain.JobReady, res.State)
		assert.Equal(t, "renditions/7/480p/aaa.mp4", res.Manifest["480p"])
		assert.Equal(t, "https://store.local/renditions/7/480p/aaa.mp4?sig=x", res.PlayURLs["480p"])
		assert.Equal(t, "https://store.local/covers/7/ccc.jpg?sig=x", res.CoverURL)
		assert.Len(t, res.Renditions, 1)
		cache.AssertExpectations(t)
	})

	t.Run("終態結果命中快取時不再查庫", func(t *testing.T) {
		usecase, status, _, _, _, cache := newTestUseCase()
		cache.On("Get", mock.Anything, "transcode_status:7").
			Return(domain.TranscodeStatusRes{VideoID: 7, JobID: "job-1", State: domain.JobReady}, nil).Once()

		res, err := usecase.GetTranscodeStatus(context.Background(), 7)
		assert.NoError(t, err)
		assert.Equal(t, domain.JobReady, res.State)
		status.AssertNotCalled(t, "GetByVideoID", mock.Anything)
	})

	t.Run("取消中的 job 對外呈現為 failed", func(t *testing.T) {
		usecase, status, renditions, _, _, cache := newTestUseCase()
		cache.On("Get", mock.Anything, "transcode_status:7").
			Return(domain.TranscodeStatusRes{}, errors.New("redis: nil")).Once()
		status.On("GetByVideoID", uint(7)).Return(&domain.TranscodeJob{
			JobID: "job-1", VideoID: 7, State: string(domain.JobCancelling), Cause: "cancelled",
		}, nil).Once()
		renditions.On("ListByJob", mock.Anything, "job-1").Return([]domain.RenditionRecord{}, nil).Once()

		res, err := usecase.GetTranscodeStatus(context.Background(), 7)
		assert.NoError(t, err)
		assert.Equal(t, domain.JobFailed, res.State)
		assert.Equal(t, "cancelled", res.Cause)
		// cancelling 還會變動，不得寫入快取
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("找不到 job 時回報 not found", func(t *testing.T) {
		usecase, status, _, _, _, cache := newTestUseCase()
		cache.On("Get", mock.Anything, "transcode_status:9").
			Return(domain.TranscodeStatusRes{}, errors.New("redis: nil")).Once()
		status.On("GetByVideoID", uint(9)).Return(nil, gorm.ErrRecordNotFound).Once()

		res, err := usecase.GetTranscodeStatus(context.Background(), 9)
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.Nil(t, res)
	})
}

// 測試 CancelVideoJob
func TestCancelVideoJob(t *testing.T) {
	t.Run("找不到 job 時回報 not found", func(t *testing.T) {
		usecase, status, _, _, _, _ := newTestUseCase()
		status.On("GetByVideoID", uint(9)).Return(nil, gorm.ErrRecordNotFound).Once()

		err := usecase.CancelVideoJob(context.Background(), 9)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("in-flight job 標記取消", func(t *testing.T) {
		usecase, status, _, _, _, _ := newTestUseCase()
		status.On("GetByVideoID", uint(7)).
			Return(&domain.TranscodeJob{JobID: "job-1", VideoID: 7, State: string(domain.JobQueued)}, nil).Once()
		status.On("UpdateState", "job-1", domain.JobCancelling, "cancelled").Return(nil).Once()

		err := usecase.CancelVideoJob(context.Background(), 7)
		assert.NoError(t, err)
		status.AssertExpectations(t)
	})
}
