package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a lock taken by TryLock.
type Unlock func(ctx context.Context) error

// Locker grants exclusive right to run a sweep. TryLock never waits: it
// reports false when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (Unlock, bool, error)
}

// LocalLocker serialises sweeps within one process.
type LocalLocker struct {
	mu sync.Mutex
}

func (l *LocalLocker) TryLock(context.Context) (Unlock, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.mu.Unlock()
		return nil
	}, true, nil
}

// DefaultLockKey is the Redis key guarding the sweep.
const DefaultLockKey = "razvoz:lock:sweep"

// RedisLocker serialises sweeps across processes sharing a Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
}

// NewRedisLocker builds a locker on client. The lock auto-expires after
// expiry so a crashed holder cannot block sweeping for long.
func NewRedisLocker(client redis.UniversalClient, key string, expiry time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		expiry: expiry,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context) (Unlock, bool, error) {
	mutex := l.rs.NewMutex(l.key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		msg := err.Error()
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) ||
			strings.Contains(msg, "lock already taken") ||
			strings.Contains(msg, "failed to acquire lock") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquiring sweep lock: %w", err)
	}

	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("releasing sweep lock: %w", err)
		}
		if !ok {
			return errors.New("sweep lock expired before release")
		}
		return nil
	}, true, nil
}
