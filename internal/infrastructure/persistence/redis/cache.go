// Package redis holds the Redis side of the progress service: a snapshot
// cache in front of the aggregate store. The same client also carries the
// cross-instance event bus.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the subset of go-redis options the service exposes.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix is prepended to every key; empty means DefaultKeyPrefix.
	KeyPrefix string
}

// DefaultConfig targets a local Redis with short socket timeouts. The cache is
// optional, so a slow Redis must not hold up a session.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

// Addr is host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

var (
	// ErrCacheMiss means the key is absent or expired.
	ErrCacheMiss = errors.New("cache: miss")
	// ErrCacheConnection wraps the initial PING failure.
	ErrCacheConnection = errors.New("cache: cannot connect")
	// ErrCacheSerialization wraps snapshot encode and decode failures.
	ErrCacheSerialization = errors.New("cache: bad snapshot")
	errEmptyKey           = errors.New("cache: empty key")
)

const (
	// DefaultKeyPrefix namespaces keys when Config.KeyPrefix is empty.
	DefaultKeyPrefix = "study-progress:"

	// TTLProgressSnapshot bounds how long a snapshot written by another
	// instance can stay stale.
	TTLProgressSnapshot = 10 * time.Minute
)

// ProgressKey is <prefix>progress:<userID>.
func ProgressKey(prefix, userID string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + "progress:" + userID
}

// Cache is a thin byte-oriented wrapper over a go-redis client.
type Cache struct {
	client redis.UniversalClient
}

// NewCache dials Redis and fails unless PING answers within DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps an already configured client.
func NewCacheFromClient(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Client exposes the connection so the event bus can share it.
func (c *Cache) Client() redis.UniversalClient { return c.client }

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// GetBytes returns ErrCacheMiss for an absent key.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errEmptyKey
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, err
	}
	return data, nil
}

// SetBytes writes data with ttl; ttl <= 0 keeps the key forever.
func (c *Cache) SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes keys; missing ones are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
