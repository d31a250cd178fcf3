package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coord-service/internal/client"
	"coord-service/internal/util"
)

const (
	rateLimitPrefix = "rate_limit:"
	tempLockPrefix  = "temp_lock:"
)

// fixedWindowScript counts one hit in the window that starts with the first
// hit and lasts ARGV[1] milliseconds. Returns {count, remaining window ms}.
var fixedWindowScript = goredis.NewScript(`
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

// RateLimitCache keeps counters and short-lived locks that must be shared by
// every cluster.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// FixedWindow records one hit against key and reports the hit count within
// the current window and the time until that window ends.
func (c *RateLimitCache) FixedWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := c.client.RunScript(ctx, fixedWindowScript, []string{rateLimitPrefix + key}, window.Milliseconds())
	if err != nil {
		util.Error("Failed to execute fixed window rate limit",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, 0, fmt.Errorf("failed to execute fixed window rate limit: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected result format from fixed window script")
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected result types from fixed window script")
	}
	return count, time.Duration(ttl) * time.Millisecond, nil
}

// AcquireLock sets a lock for key unless one is already held. It returns
// false when another holder got there first.
func (c *RateLimitCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, tempLockPrefix+key, "locked", ttl)
	if err != nil {
		util.Error("Failed to set temporary lock",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false, fmt.Errorf("failed to set temporary lock: %w", err)
	}
	if !ok {
		util.Debug("Temporary lock already held", zap.String("key", key))
	}
	return ok, nil
}
