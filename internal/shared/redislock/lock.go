// Package redislock provides a non-blocking distributed mutex so only one
// processor instance drains the outbox at a time.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrEmptyKey = errors.New("lock key cannot be empty")

type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func New(client redis.UniversalClient, expiry time.Duration) *Locker {
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

// TryLock makes a single attempt. A busy lock is reported as acquired=false
// with a nil error; anything else is a real failure.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, ErrEmptyKey
	}

	m := l.rs.NewMutex(key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	release := func(ctx context.Context) error {
		ok, err := m.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("release lock %s: not held", key)
		}
		return nil
	}
	return release, true, nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
