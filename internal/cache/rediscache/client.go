package rediscache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// NewClient opens the client shared by the send locker and the carrier rate limiter.
// Timeouts are short: both callers degrade when redis is slow.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}
