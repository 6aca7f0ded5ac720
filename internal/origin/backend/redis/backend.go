// Package redis provides a Redis-backed origin directory backend, so several
// relays can share one directory.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/moq-relay/internal/origin"
	"github.com/gezibash/moq-relay/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyPoolSize     = "pool_size"
	KeyKeyPrefix    = "key_prefix"
)

func init() {
	origin.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyPassword:     "",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyPoolSize:     "0",
		KeyKeyPrefix:    "moq:origin:",
	}
}

// claimScript sets the key when it is absent or already holds ARGV[1].
var claimScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false or cur == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript deletes the key only while it holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options holds validated Redis settings.
type Options struct {
	Client *redis.Options
	Prefix string
}

// ParseConfig validates a configuration map without connecting.
func ParseConfig(config map[string]string) (*Options, error) {
	addr := storage.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, storage.NewConfigError("redis", KeyAddr, "cannot be empty")
	}

	db, err := storage.GetInt(config, KeyDB, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], err.Error())
	}
	if db < 0 {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDB, config[KeyDB], "must be non-negative")
	}

	maxRetries, err := storage.GetInt(config, KeyMaxRetries, 3)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyMaxRetries, config[KeyMaxRetries], err.Error())
	}

	dialTimeout, err := storage.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyDialTimeout, config[KeyDialTimeout], err.Error())
	}

	readTimeout, err := storage.GetDuration(config, KeyReadTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyReadTimeout, config[KeyReadTimeout], err.Error())
	}

	writeTimeout, err := storage.GetDuration(config, KeyWriteTimeout, 3*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyWriteTimeout, config[KeyWriteTimeout], err.Error())
	}

	poolSize, err := storage.GetInt(config, KeyPoolSize, 0)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("redis", KeyPoolSize, config[KeyPoolSize], err.Error())
	}

	opts := &redis.Options{
		Addr:         addr,
		Password:     storage.GetString(config, KeyPassword, ""),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return &Options{Client: opts, Prefix: storage.GetString(config, KeyKeyPrefix, "moq:origin:")}, nil
}

// NewFactory creates a Redis backend and checks the connection.
func NewFactory(ctx context.Context, config map[string]string) (origin.Backend, error) {
	opts, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts.Client)

	pingCtx, cancel := context.WithTimeout(ctx, opts.Client.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	slog.Info("redis origin backend initialized", "addr", opts.Client.Addr, "db", opts.Client.DB, "key_prefix", opts.Prefix)
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient creates a backend with an existing client.
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

// Backend is a Redis implementation of origin.Backend.
type Backend struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

func (b *Backend) key(namespace string) string { return b.prefix + namespace }

// Claim implements origin.Backend.
func (b *Backend) Claim(ctx context.Context, namespace, url string, ttl time.Duration) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}
	ok, err := claimScript.Run(ctx, b.client, []string{b.key(namespace)}, url, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis claim: %w", err)
	}
	if ok == 0 {
		return origin.ErrDuplicate
	}
	return nil
}

// Get implements origin.Backend.
func (b *Backend) Get(ctx context.Context, namespace string) (string, error) {
	if b.closed.Load() {
		return "", origin.ErrClosed
	}
	url, err := b.client.Get(ctx, b.key(namespace)).Result()
	if errors.Is(err, redis.Nil) {
		return "", origin.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return url, nil
}

// Release implements origin.Backend.
func (b *Backend) Release(ctx context.Context, namespace, url string) error {
	if b.closed.Load() {
		return origin.ErrClosed
	}
	if err := releaseScript.Run(ctx, b.client, []string{b.key(namespace)}, url).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Close implements origin.Backend.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
