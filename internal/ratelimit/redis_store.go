package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript runs the token bucket refill-and-consume atomically. Bucket
// state lives in a hash of {tokens, last_refill} with a one hour TTL so idle
// clients expire on their own.
const allowScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)
return {allowed, tostring(tokens)}
`

const remainingScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refill_rate)
return tostring(tokens)
`

// RedisStore keeps token buckets in Redis so limits hold across gateway
// replicas.
type RedisStore struct {
	client    *redis.Client
	allow     *redis.Script
	remaining *redis.Script
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		allow:     redis.NewScript(allowScript),
		remaining: redis.NewScript(remainingScript),
	}, nil
}

func bucketKey(key string) string {
	return "ratelimit:" + key
}

// Allow checks if a request under the given key should be allowed.
func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	res, err := s.allow.Run(ctx, s.client, []string{bucketKey(key)}, capacity, refillRate, now).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("run allow script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected script result length %d", len(res))
	}

	allowed, _ := res[0].(int64)
	var remaining float64
	if str, ok := res[1].(string); ok {
		fmt.Sscanf(str, "%g", &remaining)
	}
	return allowed == 1, remaining, nil
}

// Remaining returns remaining tokens for a key.
func (s *RedisStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	str, err := s.remaining.Run(ctx, s.client, []string{bucketKey(key)}, capacity, refillRate, now).Text()
	if err != nil {
		return 0, fmt.Errorf("run remaining script: %w", err)
	}
	var remaining float64
	fmt.Sscanf(str, "%g", &remaining)
	return remaining, nil
}

// Reset clears the rate limit state for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, bucketKey(key)).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
