package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/greengate-br/greengate/internal/ratelimit"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testRedis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// uniqueKey gives each test its own window so runs don't interfere.
func uniqueKey(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func TestRedisStoreEnforcesLimit(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewRedisStore(testRedis)
	key := uniqueKey("limit")

	for i := 0; i < 5; i++ {
		res, err := store.Take(ctx, key, 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := store.Take(ctx, key, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisStoreSameMillisecondRequestsCountSeparately(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewRedisStore(testRedis)
	key := uniqueKey("burst")

	allowed := 0
	for i := 0; i < 4; i++ {
		res, err := store.Take(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestRedisStoreConcurrentTakesNeverOverAdmit(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewRedisStore(testRedis)
	key := uniqueKey("race")

	// 20 goroutines racing for 5 slots must admit exactly 5
	const limit = 5
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Take(ctx, key, limit, time.Minute)
			if assert.NoError(t, err) && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(limit), allowed.Load())
}

func TestRedisStoreWindowExpires(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewRedisStore(testRedis)
	key := uniqueKey("expire")

	res, err := store.Take(ctx, key, 1, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = store.Take(ctx, key, 1, 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(600 * time.Millisecond)
	res, err = store.Take(ctx, key, 1, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisStoreResetAtInFuture(t *testing.T) {
	ctx := context.Background()
	store := ratelimit.NewRedisStore(testRedis)
	key := uniqueKey("reset")

	res, err := store.Take(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.ResetAt.After(time.Now()))
}
