package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("resource lock not acquired")
)

const pollInterval = 25 * time.Millisecond

// Locker guards critical sections per calendar resource across processes.
type Locker interface {
	WithResourceLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

type redisResourceLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisResourceLocker creates a locker backed by a per resource Redis key.
// A busy lock is polled for up to wait before ErrLockNotAcquired is returned.
func NewRedisResourceLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisResourceLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(resource string) string {
	return fmt.Sprintf("lock:resource:%s", resource)
}

func (l *redisResourceLocker) WithResourceLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	key := lockKey(resource)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	// the critical section may not outlive the lease
	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisResourceLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire resource lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisResourceLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release resource lock: %w", err)
	}
	return nil
}
