// Package redis provides a redis interface for http caching.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/relaycache/httpcache"
)

// Config holds the configuration for creating a Redis cache.
type Config struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	// Required field.
	Address string

	// Password is the Redis password for authentication.
	// Optional - leave empty if no authentication is required.
	Password string

	// DB is the Redis database number to use.
	// Optional - defaults to 0.
	DB int

	// PoolSize is the maximum number of socket connections in the pool.
	// Optional - defaults to 10.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections kept open.
	// Optional - defaults to 0 (disabled).
	MinIdleConns int

	// MaxRetries is the number of retries before giving up on a command.
	// Optional - defaults to 3.
	MaxRetries int

	// DialTimeout is the timeout for connecting to Redis.
	// Optional - defaults to 5 seconds.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for reading from Redis.
	// Optional - defaults to 5 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for writing to Redis.
	// Optional - defaults to 5 seconds.
	WriteTimeout time.Duration
}

// cache is an implementation of httpcache.Cache and httpcache.StaleMarker
// that caches responses in a redis server.
type cache struct {
	client *goredis.Client
}

// cacheKey modifies an httpcache key for use in redis. Specifically, it
// prefixes keys to avoid collision with other data stored in redis.
func cacheKey(key string) string {
	return "rediscache:" + key
}

// staleCacheKey namespaces the stale marker for a key, separate from the
// entry itself so marking stale never touches the stored bytes.
func staleCacheKey(key string) string {
	return "rediscache:stale:" + key
}

// Get returns the response corresponding to key if present.
func (c cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis cache get failed for key %q: %w", key, err)
	}
	return item, true, nil
}

// Set saves a response to the cache as key.
func (c cache) Set(ctx context.Context, key string, resp []byte) error {
	if err := c.client.Set(ctx, cacheKey(key), resp, 0).Err(); err != nil {
		return fmt.Errorf("redis cache set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes the response with key from the cache, clearing any stale
// marker along with it.
func (c cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, cacheKey(key), staleCacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache delete failed for key %q: %w", key, err)
	}
	return nil
}

// MarkStale marks the cached entry as stale without removing it.
func (c cache) MarkStale(ctx context.Context, key string) error {
	n, err := c.client.Exists(ctx, cacheKey(key)).Result()
	if err != nil {
		return fmt.Errorf("redis cache check for key %q failed: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	if err := c.client.Set(ctx, staleCacheKey(key), []byte{1}, 0).Err(); err != nil {
		return fmt.Errorf("redis cache mark stale failed for key %q: %w", key, err)
	}
	return nil
}

// IsStale reports whether the cached entry has been marked stale.
func (c cache) IsStale(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, staleCacheKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis cache stale check failed for key %q: %w", key, err)
	}
	return n > 0, nil
}

// GetStale retrieves a stale entry if it exists and is marked stale.
func (c cache) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	stale, err := c.IsStale(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !stale {
		return nil, false, nil
	}
	return c.Get(ctx, key)
}

// Close closes the underlying redis client.
func (c cache) Close() error {
	return c.client.Close()
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		DB:           0,
	}
}

// New creates a new Cache with the given configuration.
// The caller should call Close() on the returned cache when done.
func New(config Config) (httpcache.Cache, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	defaults := DefaultConfig()
	if config.PoolSize == 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return cache{client: client}, nil
}

// NewWithClient returns a new Cache backed by an already-configured
// *redis.Client, useful when the caller manages its own connection lifecycle
// (pooling, TLS, cluster mode) and just wants the httpcache.Cache adapter.
func NewWithClient(client *goredis.Client) httpcache.Cache {
	return cache{client: client}
}
