package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	db, err := NewRedisDB(&config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, mr
}

func TestRedisSessions(t *testing.T) {
	db, mr := setupRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := &models.Session{ID: "abc123"}
	require.NoError(t, sess.Authenticate(&models.User{ID: 42, Email: "alice@example.com", FirstName: "Alice", LastName: "Smith"}, models.AuthMethodPassword, now))

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, db.SaveSession(ctx, sess, 24*time.Hour))
		assert.Equal(t, 24*time.Hour, mr.TTL("session:abc123"))

		loaded, err := db.LoadSession(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "abc123", loaded.ID)
		assert.Equal(t, int64(42), loaded.UserID)
		assert.Equal(t, "alice@example.com", loaded.Email)
		assert.True(t, loaded.IsAuthenticated())
		assert.Equal(t, models.AuthMethodPassword, loaded.AuthMethod)
		assert.True(t, now.Equal(loaded.CreatedAt))
		assert.True(t, now.Equal(loaded.LoginTime))
	})

	t.Run("expired session is not found", func(t *testing.T) {
		require.NoError(t, db.SaveSession(ctx, sess, time.Minute))
		mr.FastForward(2 * time.Minute)

		_, err := db.LoadSession(ctx, "abc123")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, db.SaveSession(ctx, sess, time.Hour))
		require.NoError(t, db.DeleteSession(ctx, "abc123"))

		_, err := db.LoadSession(ctx, "abc123")
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		assert.NoError(t, db.DeleteSession(ctx, "never-existed"))
	})

	t.Run("malformed record is discarded", func(t *testing.T) {
		mr.HSet("session:broken", "user_id", "not-a-number")

		_, err := db.LoadSession(ctx, "broken")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		assert.Error(t, db.SaveSession(ctx, &models.Session{}, time.Hour))
	})

	t.Run("store failure is opaque", func(t *testing.T) {
		mr.SetError("connection reset")
		defer mr.SetError("")

		_, err := db.LoadSession(ctx, "abc123")
		assert.True(t, apperr.IsStoreError(err))
		assert.NotContains(t, err.Error(), "connection reset")
	})
}

func TestRedisRateLimit(t *testing.T) {
	db, mr := setupRedis(t)
	ctx := context.Background()

	var observed []string
	db.SetQueryObserver(func(database, operation, status string, _ time.Duration) {
		observed = append(observed, database+":"+operation+":"+status)
	})

	for i := 1; i <= 3; i++ {
		count, resetIn, err := db.IncrementRateLimit(ctx, "203.0.113.1", "auth:login", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
		assert.Equal(t, time.Minute, resetIn)
	}
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:203.0.113.1:auth:login"))
	assert.Contains(t, observed, "redis:INCR:success")

	t.Run("window does not slide", func(t *testing.T) {
		mr.FastForward(20 * time.Second)

		_, resetIn, err := db.IncrementRateLimit(ctx, "203.0.113.1", "auth:login", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 40*time.Second, resetIn)
	})

	t.Run("buckets are independent", func(t *testing.T) {
		count, _, err := db.IncrementRateLimit(ctx, "203.0.113.1", "auth:check-session", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("counter without ttl gets one", func(t *testing.T) {
		require.NoError(t, mr.Set("ratelimit:203.0.113.9:auth:login", "7"))

		count, _, err := db.IncrementRateLimit(ctx, "203.0.113.9", "auth:login", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(8), count)
		assert.Equal(t, time.Minute, mr.TTL("ratelimit:203.0.113.9:auth:login"))
	})

	mr.FastForward(41 * time.Second)

	count, _, err := db.IncrementRateLimit(ctx, "203.0.113.1", "auth:login", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
