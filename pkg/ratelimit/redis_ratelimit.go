package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Starts the window on the first hit and reports the count with the
// remaining TTL in ms.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return {count, ttl}
`)

// RedisRateLimiter shares fixed-window counters across instances.
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, *Info, error) {
	result, err := fixedWindowScript.Run(ctx, r.client, []string{r.keyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, nil, fmt.Errorf("redis script execution failed: %w", err)
	}
	if len(result) != 2 {
		return false, nil, fmt.Errorf("invalid script result")
	}

	count, ttl := int(result[0]), time.Duration(result[1])*time.Millisecond

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, &Info{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: time.Now().Add(ttl),
	}, nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
