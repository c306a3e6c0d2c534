// Package cache provides a Redis-backed read-through cache for hot lookup
// paths. Values are stored as JSON under namespaced keys.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/config"
)

// DefaultTTL is used when Set is called with a zero TTL.
const DefaultTTL = time.Hour

// ErrCacheMiss is returned when a key is not present.
var ErrCacheMiss = errors.New("cache miss")

// Cache wraps a Redis client with JSON get/set helpers.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Cache on top of an existing Redis client.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Connect dials Redis per the cache config and returns a Cache bound to
// it. The connection is verified with a ping before use.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 100,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	logger.Info("cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", cfg.TTL),
	)

	return New(client, cfg.TTL), nil
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key builds a namespaced cache key.
func Key(kind, id string) string {
	return kind + ":" + id
}

// Get unmarshals the cached value at key into dest. Returns ErrCacheMiss
// when the key does not exist.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Set marshals v and stores it at key. A zero ttl falls back to the
// configured default.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Del removes one or more keys.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

// Health checks Redis connectivity.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
