// Package cache provides Redis key naming and the windowed counters behind
// the failed-login lockout (IncrementWithTTL, Counter, Delete).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache wraps a Redis client.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance wrapping a Redis client.
//
// Example:
//
//	c := cache.NewCache(redisDB.Client())
func NewCache(client *redis.Client) *Cache {
	return &Cache{
		client: client,
	}
}

// Delete removes one or more keys.
//
// Example:
//
//	c.Delete(ctx, cache.LoginFailuresKey(email))
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Error().Err(err).Strs("keys", keys).Msg("Failed to delete from cache")
		return fmt.Errorf("cache delete error: %w", err)
	}

	return nil
}

// IncrementWithTTL increments the counter at key and gives it ttl if it has
// none. Both commands run in one MULTI/EXEC, so a counter never outlives its
// window because the process died between them.
//
// Example:
//
//	n, err := c.IncrementWithTTL(ctx, cache.LoginFailuresKey(email), 15*time.Minute)
func (c *Cache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to increment counter")
		return 0, fmt.Errorf("cache increment error: %w", err)
	}
	return incr.Val(), nil
}

// Counter returns the integer stored at key, or 0 when the key is absent.
func (c *Cache) Counter(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache counter error: %w", err)
	}
	return val, nil
}
