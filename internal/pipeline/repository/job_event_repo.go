package repository

import (
	"context"

	"video_transcode_pipeline/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobEventRepo definition job 事件明細的存取
// 供運維診斷用：原始錯誤與嘗試歷程保留在這裡，使用者只看到泛化原因
type JobEventRepo interface {
	// Append 寫入一筆 job 事件
	Append(ctx context.Context, ev *domain.JobEvent) error
	// ListByJob 依時間序查詢指定 job 的事件
	ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error)
}

type jobEventRepo struct {
	coll *mongo.Collection
}

// NewJobEventRepo create a JobEventRepo
func NewJobEventRepo(db *mongo.Database) JobEventRepo {
	return &jobEventRepo{
		coll: db.Collection("job_events"),
	}
}

func (r *jobEventRepo) Append(ctx context.Context, ev *domain.JobEvent) error {
	_, err := r.coll.InsertOne(ctx, ev)
	return err
}

func (r *jobEventRepo) ListByJob(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	filter := bson.M{"job_id": jobID}
	opts := options.Find().SetSort(bson.M{"at": 1})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []domain.JobEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}
