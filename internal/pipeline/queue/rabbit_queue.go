package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/pkg/database"
	"video_transcode_pipeline/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// JobPublisher definition job 入列端
type JobPublisher interface {
	// Enqueue 發布 job 訊息；broker 不可用時立刻回傳基礎設施錯誤（fail fast），
	// 由上傳端以可重試錯誤呈現，絕不默默丟棄已入庫的原始檔
	Enqueue(ctx context.Context, job domain.JobDescriptor) error
}

// JobConsumer definition job 消費端
type JobConsumer interface {
	// Consume 開始消費，回傳的 channel 在 ctx 結束或連線關閉時關閉
	Consume(ctx context.Context, prefetch int) (<-chan JobDelivery, error)
}

// JobDelivery 一次投遞，持有者必須 Ack 或 Nack
type JobDelivery struct {
	Job  domain.JobDescriptor
	ack  func() error
	nack func(requeue bool) error
}

// NewJobDelivery 包裝一次投遞與它的確認動作
func NewJobDelivery(job domain.JobDescriptor, ack func() error, nack func(requeue bool) error) JobDelivery {
	return JobDelivery{Job: job, ack: ack, nack: nack}
}

// Ack 確認訊息
func (d *JobDelivery) Ack() error {
	return d.ack()
}

// Nack 拒絕訊息，requeue 為 true 時重新入列等待重投遞
func (d *JobDelivery) Nack(requeue bool) error {
	return d.nack(requeue)
}

// RabbitJobQueue RabbitMQ 實作的 job queue adapter
type RabbitJobQueue struct {
	publisher database.RabbitRepo
	channel   *amqp.Channel
	queueName string
}

// NewRabbitJobQueue 建立 adapter 並宣告 durable queue
func NewRabbitJobQueue(channel *amqp.Channel, queueName string) (*RabbitJobQueue, error) {
	if _, err := channel.QueueDeclare(
		queueName, // queue name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // arguments
	); err != nil {
		return nil, fmt.Errorf("queue declare failed: %w", err)
	}

	return &RabbitJobQueue{
		publisher: database.NewRabbitRepository(channel),
		channel:   channel,
		queueName: queueName,
	}, nil
}

// Enqueue 發布持久化 job 訊息
func (q *RabbitJobQueue) Enqueue(ctx context.Context, job domain.JobDescriptor) error {
	job.SchemaVersion = domain.JobSchemaVersion

	data, err := json.Marshal(job)
	if err != nil {
		return domain.NewPermanent("job_encode", err)
	}

	err = q.publisher.Publish(
		"",          // 預設 exchange
		q.queueName, // queue 名稱
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         data,
		},
	)
	if err != nil {
		return domain.NewInfrastructure("queue_unavailable", err)
	}
	return nil
}

// decodeJob 解碼 job 訊息並檢查 schema 版本
func decodeJob(body []byte) (domain.JobDescriptor, error) {
	var job domain.JobDescriptor
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.JobDescriptor{}, fmt.Errorf("decode job failed: %w", err)
	}
	if job.SchemaVersion != domain.JobSchemaVersion {
		return domain.JobDescriptor{}, fmt.Errorf("unknown job schema version: %d", job.SchemaVersion)
	}
	return job, nil
}

// Consume 設定 prefetch 後開始消費，解碼並做 schema 版本檢查
func (q *RabbitJobQueue) Consume(ctx context.Context, prefetch int) (<-chan JobDelivery, error) {
	if err := q.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos failed: %w", err)
	}

	msgs, err := q.channel.Consume(
		q.queueName,
		"",    // consumer tag，留空由系統分配
		false, // autoAck 為 false，使用手動確認
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("consume failed: %w", err)
	}

	out := make(chan JobDelivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-msgs:
				if !ok {
					logger.Log.Warn("RabbitMQ 消費 channel 已關閉")
					return
				}

				job, err := decodeJob(d.Body)
				if err != nil {
					// 解析失敗或未知 schema 的訊息不重新入列，避免毒訊息無限循環
					logger.Log.Errorf("拒絕無法處理的轉碼工作訊息:", err,
						zap.String("body", string(d.Body)),
					)
					if err := d.Nack(false, false); err != nil {
						logger.Log.Errorf("Nack 訊息失敗:", err)
					}
					continue
				}

				delivery := NewJobDelivery(job,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)

				select {
				case out <- delivery:
				case <-ctx.Done():
					// 未轉交的訊息交還 broker
					if err := d.Nack(false, true); err != nil {
						logger.Log.Errorf("Nack 訊息失敗:", err)
					}
					return
				}
			case <-ctx.Done():
				logger.Log.Info("Consumer 收到停止訊號")
				return
			}
		}
	}()

	return out, nil
}
