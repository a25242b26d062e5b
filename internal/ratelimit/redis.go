// ABOUTME: Redis-backed sliding window for multi-node deployments
// ABOUTME: Uses a sorted set per key with an atomic Lua prune-check-add script

package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript prunes expired members, checks the in-window count against the
// limit, and records the new timestamp - all in one atomic step so concurrent
// gateway nodes cannot over-admit past the limit.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return 1
end
return 0
`)

// RedisWindow implements Window on top of a shared Redis instance, giving a
// correct global limit across gateway processes.
type RedisWindow struct {
	client *redis.Client
	prefix string
	seq    atomic.Int64
}

// NewRedisWindow creates a window store backed by the Redis server at addr.
func NewRedisWindow(addr string) *RedisWindow {
	return &RedisWindow{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "ratelimit:",
	}
}

// Admit implements Window.
func (r *RedisWindow) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	cutoff := now.Add(-window).UnixNano()
	score := now.UnixNano()

	// Member must be unique even when two requests share a nanosecond.
	member := fmt.Sprintf("%d-%d", score, r.seq.Add(1))

	res, err := admitScript.Run(ctx, r.client, []string{r.prefix + key},
		cutoff,
		limit,
		score,
		member,
		window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("running admit script: %w", err)
	}
	return res == 1, nil
}

// Close releases the underlying Redis connection.
func (r *RedisWindow) Close() error {
	return r.client.Close()
}
