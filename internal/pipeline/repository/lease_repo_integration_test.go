package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"video_transcode_pipeline/pkg/logger"
	testtool "video_transcode_pipeline/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// **測試用的容器**
var redisContainer testcontainers.Container
var redisClient *redis.Client

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()
	var err error
	var redisHost, redisPort string

	// **啟動 Redis**
	redisContainer, redisHost, redisPort, err = testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:latest",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		log.Fatalf("❌ Failed to start Redis container: %v", err)
	}
	fmt.Printf("✅ Redis running at %s:%s\n", redisHost, redisPort)

	redisClient = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}

	code := m.Run()

	_ = redisContainer.Terminate(ctx)
	os.Exit(code)
}

// 測試租約的取得與互斥
func TestLeaseAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	leases := NewLeaseRepo(redisClient)

	ok, err := leases.Acquire(ctx, "job-acquire", "worker-a", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 他人無法搶走持有中的租約
	ok, err = leases.Acquire(ctx, "job-acquire", "worker-b", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	held, err := leases.Held(ctx, "job-acquire", "worker-a")
	assert.NoError(t, err)
	assert.True(t, held)

	held, err = leases.Held(ctx, "job-acquire", "worker-b")
	assert.NoError(t, err)
	assert.False(t, held)

	// 釋放後他人可取得
	assert.NoError(t, leases.Release(ctx, "job-acquire", "worker-a"))
	ok, err = leases.Acquire(ctx, "job-acquire", "worker-b", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)
}

// 測試租約過期後的易主（worker 崩潰的恢復路徑）
func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	leases := NewLeaseRepo(redisClient)

	ok, err := leases.Acquire(ctx, "job-expiry", "worker-a", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 等待租約自然過期
	time.Sleep(1500 * time.Millisecond)

	held, err := leases.Held(ctx, "job-expiry", "worker-a")
	assert.NoError(t, err)
	assert.False(t, held)

	// 新 worker 接手
	ok, err = leases.Acquire(ctx, "job-expiry", "worker-b", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 舊 worker 的續期必須失敗
	renewed, err := leases.Renew(ctx, "job-expiry", "worker-a", time.Minute)
	assert.NoError(t, err)
	assert.False(t, renewed)
}

// 測試續期延長 TTL
func TestLeaseRenew(t *testing.T) {
	ctx := context.Background()
	leases := NewLeaseRepo(redisClient)

	ok, err := leases.Acquire(ctx, "job-renew", "worker-a", 2*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	renewed, err := leases.Renew(ctx, "job-renew", "worker-a", time.Minute)
	assert.NoError(t, err)
	assert.True(t, renewed)

	ttl, err := redisClient.TTL(ctx, "lease:job-renew").Result()
	assert.NoError(t, err)
	assert.Greater(t, ttl, 2*time.Second)
}
