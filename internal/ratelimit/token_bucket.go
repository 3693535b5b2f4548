// Package ratelimit throttles query submission per principal with a
// distributed token bucket in Redis, so limits hold across API replicas.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a per-principal token bucket. Requests carry a cost so
// statements flagged as expensive can drain the bucket faster than cheap
// ones.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the principal if available.
func (b *TokenBucket) Allow(ctx context.Context, principal string) (bool, float64, error) {
	return b.AllowN(ctx, principal, 1)
}

// AllowN consumes cost tokens for the principal if available. Returns the
// allowed flag and the remaining token count.
func (b *TokenBucket) AllowN(ctx context.Context, principal string, cost int) (bool, float64, error) {
	if cost < 1 {
		cost = 1
	}
	now := time.Now().UnixMilli()
	key := "ratelimit:principal:" + principal
	res, err := bucketScript.Run(ctx, b.client, []string{key},
		b.capacity, b.refill, now, b.ttl.Milliseconds(), cost).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local cost = tonumber(ARGV[5])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
