package cron

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paysaga-backend/pkg/redis"
)

const testLockKey = "ps:lock:cron-worker:payments:test"

func TestRedisLockAcquireAndRelease(t *testing.T) {
	raw, mock := redismock.NewClientMock()
	lock, err := NewRedisLock(redis.NewWithClient(raw), testLockKey, time.Minute)
	require.NoError(t, err)

	mock.Regexp().ExpectSetNX(testLockKey, `.+`, time.Minute).SetVal(true)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	token := lock.held()
	require.NotEmpty(t, token)
	mock.ExpectEval(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`,
		[]string{testLockKey}, token).SetVal(int64(1))
	require.NoError(t, lock.Release(context.Background()))
	assert.Empty(t, lock.held())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLockSkipsWhenHeld(t *testing.T) {
	raw, mock := redismock.NewClientMock()
	lock, err := NewRedisLock(redis.NewWithClient(raw), testLockKey, time.Minute)
	require.NoError(t, err)

	mock.Regexp().ExpectSetNX(testLockKey, `.+`, time.Minute).SetVal(false)
	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	// nothing owned, so release must not touch redis
	assert.NoError(t, lock.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisLockValidates(t *testing.T) {
	raw, _ := redismock.NewClientMock()
	_, err := NewRedisLock(redis.NewWithClient(raw), "", time.Minute)
	assert.Error(t, err)

	lock, err := NewRedisLock(redis.NewWithClient(raw), testLockKey, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)
}
