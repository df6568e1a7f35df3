package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimiterStore abstracts per-agent rate limiting for the resource
// check. Allow reports whether the agent may spend cost tokens now.
type LimiterStore interface {
	Allow(ctx context.Context, agentID string, cost int) (bool, error)
}

// LocalLimiterStore keeps one token bucket per agent in process.
// Suitable for single-instance deployments.
type LocalLimiterStore struct {
	requestsPerMinute int
	burst             int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiterStore creates a store granting requestsPerMinute
// sustained with the given burst capacity per agent.
func NewLocalLimiterStore(requestsPerMinute, burst int) *LocalLimiterStore {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &LocalLimiterStore{
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		buckets:           make(map[string]*rate.Limiter),
	}
}

func (s *LocalLimiterStore) Allow(_ context.Context, agentID string, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.buckets[agentID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(s.requestsPerMinute)/60.0), s.burst)
		s.buckets[agentID] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(time.Now(), cost), nil
}

// redisBucketScript runs the token bucket atomically in Redis so that
// multiple kernel instances share one budget per agent.
// KEYS[1] = bucket key; ARGV = rate/sec, capacity, cost, now (seconds).
var redisBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)
return allowed
`)

// RedisLimiterStore shares per-agent token buckets across kernel
// instances. Any Redis error propagates; the caller fails closed.
type RedisLimiterStore struct {
	client            *redis.Client
	requestsPerMinute int
	burst             int
}

// NewRedisLimiterStore connects to Redis at addr.
func NewRedisLimiterStore(addr, password string, db, requestsPerMinute, burst int) *RedisLimiterStore {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	return &RedisLimiterStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
	}
}

func (s *RedisLimiterStore) Allow(ctx context.Context, agentID string, cost int) (bool, error) {
	key := "kernel:limiter:" + agentID
	ratePerSec := float64(s.requestsPerMinute) / 60.0
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisBucketScript.Run(ctx, s.client, []string{key}, ratePerSec, s.burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
