package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
)

func TestSetNXAndGet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	client := NewWithClient(db)

	key := client.IdempotencyKey("evt:processed:payments-service", "abc")
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(true)
	mock.ExpectSetNX(key, "1", time.Hour).SetVal(false)
	mock.ExpectGet(key).SetVal("1")

	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first setnx to win, got %v %v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected second setnx to lose, got %v %v", second, err)
	}
	got, err := client.Get(ctx, key)
	if err != nil || got != "1" {
		t.Fatalf("unexpected get result %q %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	client := NewWithClient(db)

	mock.ExpectExists("ps:lock:cron").SetVal(1)
	mock.ExpectExists("ps:lock:other").SetVal(0)
	mock.ExpectExists("ps:lock:broken").SetErr(errors.New("connection reset"))

	if ok, err := client.Exists(ctx, "ps:lock:cron"); err != nil || !ok {
		t.Fatalf("expected key to exist, got %v %v", ok, err)
	}
	if ok, err := client.Exists(ctx, "ps:lock:other"); err != nil || ok {
		t.Fatalf("expected key to be missing, got %v %v", ok, err)
	}
	if _, err := client.Exists(ctx, "ps:lock:broken"); err == nil {
		t.Fatalf("expected error to surface")
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewWithClient(db)
	mock.ExpectGet("ps:idempotency:missing").RedisNil()

	_, err := client.Get(context.Background(), "ps:idempotency:missing")
	if !errors.Is(err, redis.Nil) || !errors.Is(err, Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "ps:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.LockKey("cron-worker"); got != "ps:lock:cron-worker" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.IdempotencyKey("scope", " "); got != "ps:idempotency:scope" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}

	scoped := &Client{prefix: "paysaga-staging"}
	if got := scoped.ProcessedKey("ledger-consumer", "e1"); got != "paysaga-staging:processed:ledger-consumer:e1" {
		t.Fatalf("unexpected processed key %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", DB: 5, PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("url settings should win and config should fill the rest, got %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6380", Password: "pw", DB: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("unexpected address options %+v", opts)
	}

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected missing url/address error")
	}
	if _, err := optionsFromConfig(config.RedisConfig{URL: "http://nope"}); err == nil {
		t.Fatalf("expected bad scheme error")
	}
}

func TestDelWithoutKeysIsNoop(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := NewWithClient(db)
	if err := client.Del(context.Background()); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no commands expected: %v", err)
	}
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	client := NewWithClient(db)

	mock.ExpectEval(compareAndDeleteScript, []string{"ps:lock:cron"}, "owner-a").SetVal(int64(1))
	mock.ExpectEval(compareAndDeleteScript, []string{"ps:lock:cron"}, "owner-b").SetVal(int64(0))

	if ok, err := client.CompareAndDelete(ctx, "ps:lock:cron", "owner-a"); err != nil || !ok {
		t.Fatalf("expected owner to delete, got %v %v", ok, err)
	}
	if ok, err := client.CompareAndDelete(ctx, "ps:lock:cron", "owner-b"); err != nil || ok {
		t.Fatalf("expected stale owner to be refused, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}
