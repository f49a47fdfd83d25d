package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAttemptCounter counts failed identity confirmations per session key
// with a sliding retention window enforced by key TTL.
type RedisAttemptCounter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisAttemptCounter wraps a redis client. window bounds how long failed
// attempts are held against a key.
func NewRedisAttemptCounter(r *Redis, window time.Duration) *RedisAttemptCounter {
	return &RedisAttemptCounter{client: r.Client, window: window}
}

// Increment bumps the counter and returns the new value. The TTL is set on
// first increment only, so the window runs from the first failure.
func (c *RedisAttemptCounter) Increment(ctx context.Context, key string) (int, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && c.window > 0 {
		if err := c.client.Expire(ctx, key, c.window).Err(); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// Count reads the current value; a missing key counts as zero.
func (c *RedisAttemptCounter) Count(ctx context.Context, key string) (int, error) {
	n, err := c.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
