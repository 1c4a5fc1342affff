package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Lock elects the single cron-worker replica that runs a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// RedisLock is a SET NX lease with a per-acquire owner token. The TTL bounds
// how long a crashed holder blocks other replicas.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release deletes the key only if this instance's token still owns it, so an
// expired lease re-acquired by another replica is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

func (l *RedisLock) held() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}
