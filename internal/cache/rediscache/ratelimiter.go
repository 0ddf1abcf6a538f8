package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts calls per key in fixed windows shared by every API instance.
type RateLimiter struct {
	c      redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRateLimiter(c redis.UniversalClient) *RateLimiter {
	return &RateLimiter{c: c, prefix: "rl:", now: time.Now}
}

// CarrierKey names the budget of outbound calls to one carrier.
func CarrierKey(provider string) string {
	return "carrier:" + provider
}

// Allow counts one call against key in the current window and reports whether
// it fits in limit, together with the count so far. limit <= 0 means unlimited.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if limit <= 0 {
		return true, 0, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	bucket := fmt.Sprintf("%s%s:%d", rl.prefix, key, rl.now().UnixNano()/int64(window))
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	// the bucket outlives its window a little so a late INCR never resets it
	pipe.PExpire(ctx, bucket, window+window/2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "rate limit %s", key)
	}
	n := incr.Val()
	return n <= limit, n, nil
}
