package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// LeaseRepo definition worker 對 job 的租約存取
// 租約是 at-least-once 投遞下的可見性期限：未在 TTL 內續期即視為 worker 崩潰，
// job 會被重投遞；失去租約的 worker 必須在下一次回報前察覺並中止本地工作
type LeaseRepo interface {
	// Acquire 嘗試取得 job 租約，已被其他 worker 持有時回傳 false
	Acquire(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error)
	// Renew 續期自己持有的租約，租約遺失或易主時回傳 false
	Renew(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error)
	// Held 檢查租約是否仍由該 worker 持有
	Held(ctx context.Context, jobID, workerID string) (bool, error)
	// Release 釋放自己持有的租約，他人持有時不動作
	Release(ctx context.Context, jobID, workerID string) error
}

type leaseRepo struct {
	client *redis.Client
}

// NewLeaseRepo create a LeaseRepo
func NewLeaseRepo(client *redis.Client) LeaseRepo {
	return &leaseRepo{client: client}
}

func leaseKey(jobID string) string {
	return fmt.Sprintf("lease:%s", jobID)
}

func (r *leaseRepo) Acquire(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, leaseKey(jobID), workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("取得租約失敗: %w", err)
	}
	return ok, nil
}

func (r *leaseRepo) Renew(ctx context.Context, jobID, workerID string, ttl time.Duration) (bool, error) {
	held, err := r.Held(ctx, jobID, workerID)
	if err != nil || !held {
		return false, err
	}
	ok, err := r.client.Expire(ctx, leaseKey(jobID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("續期租約失敗: %w", err)
	}
	return ok, nil
}

func (r *leaseRepo) Held(ctx context.Context, jobID, workerID string) (bool, error) {
	val, err := r.client.Get(ctx, leaseKey(jobID)).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("查詢租約失敗: %w", err)
	}
	return val == workerID, nil
}

func (r *leaseRepo) Release(ctx context.Context, jobID, workerID string) error {
	held, err := r.Held(ctx, jobID, workerID)
	if err != nil || !held {
		return err
	}
	return r.client.Del(ctx, leaseKey(jobID)).Err()
}
