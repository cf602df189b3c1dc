package jobqueue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/healthdesk/clinic-api/pkg/errors"
)

// KeyLocker serializes job handlers that share a key. Recalculation
// reads-then-writes a shared ordering, so two handlers for the same
// doctor-day must never interleave.
type KeyLocker interface {
	// WithLock runs fn while holding the lock for key. When the lock
	// cannot be acquired within the configured wait, it returns a
	// LockContention error without running fn.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisKeyLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisKeyLocker builds a locker backed by per-key Redis SETNX
// entries. The ttl bounds how long a crashed holder can block others;
// wait bounds how long an acquirer spins before giving up.
func NewRedisKeyLocker(client *redis.Client, ttl, wait time.Duration) KeyLocker {
	return &redisKeyLocker{client: client, ttl: ttl, wait: wait}
}

func (l *redisKeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := fmt.Sprintf("lock:%s", key)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return errors.NewTransientStore("acquire lock", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return errors.NewLockContention(key, nil)
		}
		select {
		case <-ctx.Done():
			return errors.NewLockContention(key, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}

	defer func() {
		_ = l.release(ctx, lockKey, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// Only the holder's token may delete the key, so an expired lock that
// another worker re-acquired is never released by the old holder.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisKeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !stderrors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
