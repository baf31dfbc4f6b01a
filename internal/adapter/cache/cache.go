// Package cache provides the Redis-backed key-value store shared by the
// stages. One logical server, one DB index per purpose.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DB indexes by purpose. DBRateLimit is reserved for shared rate-limit
// state; the ingest API currently enforces its budgets with in-process
// token buckets and does not write here.
const (
	DBDedup      = 0
	DBEnrichment = 1
	DBIntel      = 2
	DBRateLimit  = 3
)

const keyPrefix = "aegis:"

// Cache wraps one Redis DB. Writes are last-writer-wins; there is no
// locking here and callers must not treat the cache as authoritative
// for anything the database also records.
type Cache struct {
	client *redis.Client
}

// New connects to the given Redis URL and selects the purpose DB.
func New(redisURL string, db int) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DB = db

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Cache{client: client}, nil
}

// GetJSON retrieves and unmarshals a cached value. The second return is
// false on a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals and stores a value with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// SetNX stores the key only if absent; true means this caller won.
func (c *Cache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+key, value, ttl).Result()
}

// Healthy reports whether the server answers a ping.
func (c *Cache) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
