package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lease never removes a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short leases on keys (SET NX PX).
type Locker struct {
	c      redis.UniversalClient
	prefix string
}

func NewLocker(c redis.UniversalClient) *Locker {
	return &Locker{c: c, prefix: "lock:"}
}

// Acquire takes the lease on key for ttl. ok is false when someone else holds it.
// The returned release func is safe to call after the lease has expired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	k := l.prefix + key
	token := uuid.NewString()

	ok, err := l.c.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.c, []string{k}, token).Err(); err != nil && err != redis.Nil {
			return errors.Wrap(err, "redis unlock")
		}
		return nil
	}
	return release, true, nil
}
