package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter keyed by caller.
type RateLimiter struct {
	client redis.Cmdable
	prefix string
}

// NewRateLimiter creates a limiter whose keys are namespaced by prefix.
func NewRateLimiter(client redis.Cmdable, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow increments the counter for key and reports whether it is still within limit for the window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := fmt.Sprintf("rate_limit:%s:%s", r.prefix, key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}
