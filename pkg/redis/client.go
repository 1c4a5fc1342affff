package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "ps"

// Nil is returned by Get when the key does not exist.
const Nil = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Exists(context.Context, ...string) *redis.IntCmd
	Del(context.Context, ...string) *redis.IntCmd
	Eval(context.Context, string, []string, ...any) *redis.Cmd
}

// Client is the thin key/value surface shared by the HTTP idempotency
// middleware, the inbox fast path and the cron leader lock. Every key it
// builds lives under one prefix so both services can share an instance.
type Client struct {
	store  cmdable
	raw    *redis.Client
	prefix string
}

// New dials Redis and pings it once before returning.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{"redis_addr": opts.Addr, "redis_db": opts.DB})
		logg.Info(ctx, "redis connection established")
	}
	c := NewWithClient(raw)
	if p := strings.Trim(cfg.KeyPrefix, ": "); p != "" {
		c.prefix = p
	}
	return c, nil
}

// NewWithClient wraps an existing go-redis client using the default prefix.
func NewWithClient(raw *redis.Client) *Client {
	return &Client{store: raw, raw: raw, prefix: defaultPrefix}
}

// optionsFromConfig prefers the URL and lets explicit settings fill whatever
// the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fillInt(&opts.DB, cfg.DB)
	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	return c.store.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := c.store.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Del(ctx, keys...).Err()
}

const compareAndDeleteScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// CompareAndDelete removes key only while it still holds expected.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := c.store.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// IdempotencyKey namespaces HTTP Idempotency-Key records per scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.key("idempotency", scope, id)
}

// ProcessedKey is the inbox fast-path marker for one consumer and event.
func (c *Client) ProcessedKey(consumer, eventID string) string {
	return c.key("processed", consumer, eventID)
}

func (c *Client) LockKey(name string) string {
	return c.key("lock", name)
}

func (c *Client) key(parts ...string) string {
	prefix := c.prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
