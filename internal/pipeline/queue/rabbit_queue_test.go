package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/pkg/logger"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockRabbitChannel 是 RabbitMQ 的 Mock
type MockRabbitChannel struct {
	mock.Mock
}

// GetRabbit 模擬獲取 RabbitMQ Channel
func (m *MockRabbitChannel) GetRabbit() *amqp.Channel {
	args := m.Called()
	return args.Get(0).(*amqp.Channel)
}

func (m *MockRabbitChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

// 測試 Enqueue 的訊息格式與錯誤處理
func TestEnqueue(t *testing.T) {
	logger.SetNewNop()
	job := domain.JobDescriptor{
		JobID:       "job-1",
		VideoID:     7,
		RawAssetKey: "original/7/raw.mp4",
		Renditions:  []string{"480p", "720p"},
	}

	t.Run("發布持久化訊息並附上 schema 版本", func(t *testing.T) {
		mockRabbit := new(MockRabbitChannel)
		q := &RabbitJobQueue{publisher: mockRabbit, queueName: domain.QueueName}

		mockRabbit.On("Publish",
			"",               // exchange
			domain.QueueName, // queue
			false,            // mandatory
			false,            // immediate
			mock.MatchedBy(func(p amqp.Publishing) bool {
				if p.ContentType != "application/json" || p.DeliveryMode != amqp.Persistent {
					return false
				}
				var got domain.JobDescriptor
				if err := json.Unmarshal(p.Body, &got); err != nil {
					return false
				}
				return got.SchemaVersion == domain.JobSchemaVersion && got.JobID == "job-1"
			}),
		).Return(nil).Once()

		err := q.Enqueue(context.Background(), job)
		assert.NoError(t, err)
		mockRabbit.AssertExpectations(t)
	})

	t.Run("broker 不可用時回報基礎設施錯誤", func(t *testing.T) {
		mockRabbit := new(MockRabbitChannel)
		q := &RabbitJobQueue{publisher: mockRabbit, queueName: domain.QueueName}

		mockRabbit.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection refused")).Once()

		err := q.Enqueue(context.Background(), job)
		assert.Error(t, err)
		assert.Equal(t, domain.FailureInfrastructure, domain.Classify(err))
	})
}

// 測試訊息解碼與 schema 版本守門
func TestDecodeJob(t *testing.T) {
	t.Run("正確版本的訊息可解碼", func(t *testing.T) {
		body, err := json.Marshal(domain.JobDescriptor{
			JobID:         "job-1",
			VideoID:       7,
			RawAssetKey:   "original/7/raw.mp4",
			Renditions:    []string{"480p"},
			SchemaVersion: domain.JobSchemaVersion,
		})
		assert.NoError(t, err)

		job, err := decodeJob(body)
		assert.NoError(t, err)
		assert.Equal(t, "job-1", job.JobID)
		assert.Equal(t, uint(7), job.VideoID)
	})

	t.Run("未知 schema 版本被拒絕", func(t *testing.T) {
		body, err := json.Marshal(domain.JobDescriptor{
			JobID:         "job-1",
			SchemaVersion: domain.JobSchemaVersion + 1,
		})
		assert.NoError(t, err)

		_, err = decodeJob(body)
		assert.Error(t, err)
	})

	t.Run("非 JSON 訊息被拒絕", func(t *testing.T) {
		_, err := decodeJob([]byte("not-json"))
		assert.Error(t, err)
	})
}

// 測試 JobDelivery 的確認轉發
func TestJobDelivery(t *testing.T) {
	var acked, nacked int
	var lastRequeue bool

	d := NewJobDelivery(domain.JobDescriptor{JobID: "job-1"},
		func() error {
			acked++
			return nil
		},
		func(requeue bool) error {
			nacked++
			lastRequeue = requeue
			return nil
		},
	)

	assert.NoError(t, d.Ack())
	assert.Equal(t, 1, acked)

	assert.NoError(t, d.Nack(true))
	assert.Equal(t, 1, nacked)
	assert.True(t, lastRequeue)
}
