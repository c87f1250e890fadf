package app

import (
	"context"
	"time"

	"video_transcode_pipeline/internal/pipeline/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
)

// MockStatusRepo 是 StatusRepo 的 Mock
type MockStatusRepo struct {
	mock.Mock
}

func (m *MockStatusRepo) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStatusRepo) Create(job *domain.TranscodeJob) error {
	args := m.Called(job)
	return args.Error(0)
}

func (m *MockStatusRepo) Delete(job *domain.TranscodeJob) error {
	args := m.Called(job)
	return args.Error(0)
}

func (m *MockStatusRepo) GetByJobID(jobID string) (*domain.TranscodeJob, error) {
	args := m.Called(jobID)
	if job, ok := args.Get(0).(*domain.TranscodeJob); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStatusRepo) GetByVideoID(videoID uint) (*domain.TranscodeJob, error) {
	args := m.Called(videoID)
	if job, ok := args.Get(0).(*domain.TranscodeJob); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStatusRepo) FindByDedupToken(token string) (*domain.TranscodeJob, error) {
	args := m.Called(token)
	if job, ok := args.Get(0).(*domain.TranscodeJob); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStatusRepo) UpdateState(jobID string, state domain.JobState, cause string) error {
	args := m.Called(jobID, state, cause)
	return args.Error(0)
}

func (m *MockStatusRepo) SaveManifest(jobID, manifest, coverKey string, duration float64) error {
	args := m.Called(jobID, manifest, coverKey, duration)
	return args.Error(0)
}

func (m *MockStatusRepo) SaveProbe(jobID, coverKey string, duration float64) error {
	args := m.Called(jobID, coverKey, duration)
	return args.Error(0)
}

func (m *MockStatusRepo) MarkEventEmitted(jobID string) error {
	args := m.Called(jobID)
	return args.Error(0)
}

// MockRenditionRepo 是 RenditionRepo 的 Mock
type MockRenditionRepo struct {
	mock.Mock
}

func (m *MockRenditionRepo) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRenditionRepo) Upsert(ctx context.Context, rec *domain.RenditionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockRenditionRepo) Get(ctx context.Context, jobID, profile string) (*domain.RenditionRecord, error) {
	args := m.Called(ctx, jobID, profile)
	if rec, ok := args.Get(0).(*domain.RenditionRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRenditionRepo) ListByJob(ctx context.Context, jobID string) ([]domain.RenditionRecord, error) {
	args := m.Called(ctx, jobID)
	if recs, ok := args.Get(0).([]domain.RenditionRecord); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockJobEventRepo 是 JobEventRepo 的 Mock
type MockJobEventRepo struct {
	mock.Mock
}

func (m *MockJobEventRepo) Append(ctx context.Context, ev *domain.JobEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockJobEventRepo) ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	args := m.Called(ctx, jobID)
	if evs, ok := args.Get(0).([]domain.JobEvent); ok {
		return evs, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLeaseRepo 是 LeaseRepo 的 Mock
type MockLeaseRepo struct {
	mock.Mock
}

func (m *MockLeaseRepo) Acquire(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, jobID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLeaseRepo) Renew(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, jobID, workerID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLeaseRepo) Held(ctx context.Context, jobID, workerID string) (bool, error) {
	args := m.Called(ctx, jobID, workerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLeaseRepo) Release(ctx context.Context, jobID, workerID string) error {
	args := m.Called(ctx, jobID, workerID)
	return args.Error(0)
}

// MockResultPublisher 是 ResultPublisher 的 Mock
type MockResultPublisher struct {
	mock.Mock
}

func (m *MockResultPublisher) StoreRendition(ctx context.Context, videoID uint, profile, localPath string) (string, string, int64, error) {
	args := m.Called(ctx, videoID, profile, localPath)
	return args.String(0), args.String(1), args.Get(2).(int64), args.Error(3)
}

func (m *MockResultPublisher) StoreCover(ctx context.Context, videoID uint, localPath string) (string, error) {
	args := m.Called(ctx, videoID, localPath)
	return args.String(0), args.Error(1)
}

func (m *MockResultPublisher) ConfirmAndRecord(ctx context.Context, job *domain.TranscodeJob, recs []domain.RenditionRecord) (map[string]string, error) {
	args := m.Called(ctx, job, recs)
	if manifest, ok := args.Get(0).(map[string]string); ok {
		return manifest, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockResultPublisher) EmitCompletion(ctx context.Context, job *domain.TranscodeJob, manifest map[string]string) error {
	args := m.Called(ctx, job, manifest)
	return args.Error(0)
}

func (m *MockResultPublisher) Discard(ctx context.Context, recs []domain.RenditionRecord) error {
	args := m.Called(ctx, recs)
	return args.Error(0)
}

// MockTranscoder 是 Transcoder 的 Mock
type MockTranscoder struct {
	mock.Mock
}

func (m *MockTranscoder) Transcode(ctx context.Context, inputPath, outputPath string, profile domain.RenditionProfile) error {
	args := m.Called(ctx, inputPath, outputPath, profile)
	return args.Error(0)
}

func (m *MockTranscoder) ExtractCover(ctx context.Context, inputPath, outputPath string) error {
	args := m.Called(ctx, inputPath, outputPath)
	return args.Error(0)
}

func (m *MockTranscoder) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	args := m.Called(ctx, inputPath)
	return args.Get(0).(float64), args.Error(1)
}

// MockMinIOClient 是 MinIOClientRepo 的 Mock
type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	args := m.Called(ctx, objectName, filePath, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) error {
	args := m.Called(ctx, objectName, destPath)
	return args.Error(0)
}

func (m *MockMinIOClient) StatObject(ctx context.Context, objectName string) (bool, error) {
	args := m.Called(ctx, objectName)
	return args.Bool(0), args.Error(1)
}

func (m *MockMinIOClient) RemoveObject(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}

func (m *MockMinIOClient) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

// MockKafkaWriter 是 KafkaEventWriter 的 Mock
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

// MockStatusCache 是 RedisRepository[TranscodeStatusRes] 的 Mock
type MockStatusCache struct {
	mock.Mock
}

func (m *MockStatusCache) Set(ctx context.Context, key string, value domain.TranscodeStatusRes, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockStatusCache) Get(ctx context.Context, key string) (domain.TranscodeStatusRes, error) {
	args := m.Called(ctx, key)
	if res, ok := args.Get(0).(domain.TranscodeStatusRes); ok {
		return res, args.Error(1)
	}
	return domain.TranscodeStatusRes{}, args.Error(1)
}

func (m *MockStatusCache) Del(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStatusCache) GetTTL(ctx context.Context, key string) (int, error) {
	args := m.Called(ctx, key)
	return args.Int(0), args.Error(1)
}

func (m *MockStatusCache) ExtendTTL(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

// MockJobPublisher 是 JobPublisher 的 Mock
type MockJobPublisher struct {
	mock.Mock
}

func (m *MockJobPublisher) Enqueue(ctx context.Context, job domain.JobDescriptor) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}
