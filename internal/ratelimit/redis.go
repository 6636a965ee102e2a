package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces limiter keys so a shared Redis can host other
// workloads.
const redisKeyPrefix = "greengate:ratelimit:"

// RedisStore implements Store on a Redis sorted set per key. Members are
// scored by request time in milliseconds, so trimming the set to the
// window start yields the current count.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed sliding-window store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// takeScript prunes the window, counts it, and conditionally admits the
// new member in one atomic step. A read-then-write pair would let two
// concurrent requests both see the last free slot and over-admit.
var takeScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local allowed = 0
if count < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	allowed = 1
end
local oldest_score = '-1'
if oldest[2] then
	oldest_score = oldest[2]
end
return {allowed, count, oldest_score}
`)

// Take records one request for key unless the window is already full.
func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	rkey := redisKeyPrefix + key
	now := time.Now()
	windowStart := now.Add(-window)

	// Member must be unique even when two requests land in the same
	// millisecond, or ZADD would collapse them into one.
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	raw, err := takeScript.Run(ctx, s.client, []string{rkey},
		windowStart.UnixMilli(),
		limit,
		now.UnixMilli(),
		member,
		(window + 10*time.Second).Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("ratelimit: redis take: unexpected reply %v", raw)
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	oldestMilli := int64(-1)
	if str, ok := raw[2].(string); ok {
		if f, perr := strconv.ParseFloat(str, 64); perr == nil {
			oldestMilli = int64(f)
		}
	}

	res := Result{Limit: limit, ResetAt: now.Add(window)}
	if oldestMilli >= 0 {
		res.ResetAt = time.UnixMilli(oldestMilli).Add(window)
	}
	if allowed == 0 {
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - int(count) - 1
	return res, nil
}

// Stats reports connection pool gauges.
func (s *RedisStore) Stats() map[string]any {
	ps := s.client.PoolStats()
	return map[string]any{
		"backend":     "redis",
		"hits":        ps.Hits,
		"misses":      ps.Misses,
		"total_conns": ps.TotalConns,
		"idle_conns":  ps.IdleConns,
	}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
