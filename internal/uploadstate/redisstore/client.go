package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gostratum/core/logx"
	"github.com/gostratum/ingestgw/internal/uploadstate"
)

// Client implements uploadstate.KVStore over a single Redis connection,
// distinguishing the two namespaces by key prefix so one Redis instance (or
// one miniredis in tests) backs both the upload record and the expiration
// index.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger logx.Logger
}

// New creates a Client against the Redis server described by cfg. A nil
// logger is replaced with a no-op logger.
func New(cfg *Config, logger logx.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.NewNoopLogger()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// NewFromRedisClient wraps an already-constructed go-redis client, used by
// tests to point a Client at a miniredis instance without going through the
// Config/dial path.
func NewFromRedisClient(rdb *redis.Client, keyPrefix string, logger logx.Logger) *Client {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Client{rdb: rdb, prefix: keyPrefix, logger: logger}
}

func (c *Client) key(ns uploadstate.Namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ns, key)
}

// Get retrieves the value stored under ns/key.
func (c *Client) Get(ctx context.Context, ns uploadstate.Namespace, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(ns, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redisstore: get %s/%s: %w", ns, key, err)
	}
	return val, true, nil
}

// Put stores value under ns/key with the given TTL.
func (c *Client) Put(ctx context.Context, ns uploadstate.Namespace, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := c.rdb.Set(ctx, c.key(ns, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: put %s/%s: %w", ns, key, err)
	}
	return nil
}

// Delete removes the value stored under ns/key. Deleting a missing key is
// not an error.
func (c *Client) Delete(ctx context.Context, ns uploadstate.Namespace, key string) error {
	if err := c.rdb.Del(ctx, c.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s/%s: %w", ns, key, err)
	}
	return nil
}

// Ping checks connectivity, used by the health-check registration.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

var _ uploadstate.KVStore = (*Client)(nil)
