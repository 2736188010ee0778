// Package ratelimit throttles production submissions per user with a Redis token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a distributed token bucket keyed by caller identity.
type Limiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Tokens left after the call.
	Tokens float64
	// RetryAfter is how long until the next token, set when the call was refused.
	RetryAfter time.Duration
}

// NewLimiter builds a limiter holding capacity tokens per key, refilled at refillPerSecond.
// Idle buckets expire after ttl.
func NewLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		client:   client,
		prefix:   "ratelimit:submit:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from the bucket of key if available.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now().UnixMilli()
	res, err := bucketScript.Run(ctx, l.client, []string{l.prefix + key}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("rate limit: unexpected script result %T", res)
	}
	allowed, _ := arr[0].(int64)
	milli, _ := arr[1].(int64)

	d := Decision{Allowed: allowed == 1, Tokens: float64(milli) / 1000}
	if !d.Allowed && l.refill > 0 {
		missing := 1 - d.Tokens
		d.RetryAfter = time.Duration(missing / l.refill * float64(time.Second))
	}
	return d, nil
}

// Tokens come back in thousandths: Redis truncates Lua numbers to integers.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, math.floor(tokens * 1000)}
`)
