package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client), mr
}

func TestCacheCounters(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	key := LoginFailuresKey(" Alice@Example.com ")

	assert.Equal(t, "login_failures:alice@example.com", key)

	n, err := c.Counter(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = c.IncrementWithTTL(ctx, key, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 15*time.Minute, mr.TTL(key))

	t.Run("later increments keep the window", func(t *testing.T) {
		mr.FastForward(5 * time.Minute)
		n, err := c.IncrementWithTTL(ctx, key, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, 10*time.Minute, mr.TTL(key))
	})

	t.Run("counter expires with its window", func(t *testing.T) {
		mr.FastForward(11 * time.Minute)
		n, err := c.Counter(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("a counter without ttl gets one", func(t *testing.T) {
		stale := LoginFailuresKey("stale@example.com")
		require.NoError(t, mr.Set(stale, "4"))

		n, err := c.IncrementWithTTL(ctx, stale, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, 15*time.Minute, mr.TTL(stale))
	})

	t.Run("delete", func(t *testing.T) {
		_, err := c.IncrementWithTTL(ctx, key, time.Minute)
		require.NoError(t, err)
		require.NoError(t, c.Delete(ctx, key))
		assert.False(t, mr.Exists(key))
	})

	t.Run("errors surface", func(t *testing.T) {
		mr.SetError("connection refused")
		defer mr.SetError("")

		_, err := c.IncrementWithTTL(ctx, key, time.Minute)
		assert.Error(t, err)
		_, err = c.Counter(ctx, key)
		assert.Error(t, err)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "session:abc", SessionKey("abc"))
	assert.Equal(t, "ratelimit:203.0.113.42:auth:login", RateLimitKey("203.0.113.42", "auth:login"))
}
