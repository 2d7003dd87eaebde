package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/ieraasyl/StorefrontAuth/pkg/cache"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisDB wraps a Redis client for session storage and rate limiting.
//
// Key patterns:
//   - "session:{sessionID}" hash, TTL = session idle timeout
//   - "ratelimit:{ip}:{endpoint}:{action}" counter, TTL = rate-limit window
type RedisDB struct {
	client  *redis.Client
	observe QueryObserver
}

// NewRedisDB creates a Redis client and waits for the server to answer,
// retrying with exponential backoff.
//
// Example:
//
//	redisDB, err := database.NewRedisDB(&cfg.Redis)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Redis connection failed")
//	}
//	defer redisDB.Close()
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := utils.Retry(ctx, utils.ConnectRetryConfig(), func() (struct{}, error) {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", cfg.Address()).Msg("Successfully connected to Redis")

	return &RedisDB{client: client}, nil
}

// SetQueryObserver installs the per-command metrics hook.
func (r *RedisDB) SetQueryObserver(fn QueryObserver) {
	r.observe = fn
}

// Close closes the Redis connection and releases all resources.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client, shared with pkg/cache.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is alive and responsive. Used by /ready.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDB) record(operation string, start time.Time, err error) {
	if r.observe == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
	}
	r.observe("redis", operation, status, time.Since(start))
}

// SaveSession writes the session hash and (re)sets its TTL in one MULTI/EXEC.
// Every save refreshes the TTL, so ttl acts as an idle timeout.
//
// Example:
//
//	err := redisDB.SaveSession(ctx, sess, 24*time.Hour)
func (r *RedisDB) SaveSession(ctx context.Context, sess *models.Session, ttl time.Duration) error {
	if sess.ID == "" {
		return fmt.Errorf("save session: empty session id")
	}
	key := cache.SessionKey(sess.ID)

	fields := map[string]interface{}{
		"user_id":       sess.UserID,
		"email":         sess.Email,
		"first_name":    sess.FirstName,
		"last_name":     sess.LastName,
		"authenticated": strconv.FormatBool(sess.Authenticated),
		"auth_method":   string(sess.AuthMethod),
		"login_time":    sess.LoginTime.UTC().Format(time.RFC3339Nano),
		"created_at":    sess.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	r.record("HSET", start, err)

	if err != nil {
		log.Error().Err(err).Msg("Failed to save session")
		return &apperr.StoreError{Op: "save_session"}
	}
	return nil
}

// LoadSession reads a session hash. Returns apperr.ErrNotFound if the session
// does not exist or has expired.
func (r *RedisDB) LoadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	start := time.Now()
	result, err := r.client.HGetAll(ctx, cache.SessionKey(sessionID)).Result()
	r.record("HGETALL", start, err)

	if err != nil {
		log.Error().Err(err).Msg("Failed to load session")
		return nil, &apperr.StoreError{Op: "load_session"}
	}
	if len(result) == 0 {
		return nil, apperr.ErrNotFound
	}

	sess, err := decodeSession(sessionID, result)
	if err != nil {
		// A hash we cannot read is treated like a missing one.
		log.Warn().Err(err).Msg("Discarding malformed session record")
		return nil, apperr.ErrNotFound
	}
	return sess, nil
}

func decodeSession(id string, h map[string]string) (*models.Session, error) {
	userID, err := strconv.ParseInt(h["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("user_id: %w", err)
	}
	authenticated, err := strconv.ParseBool(h["authenticated"])
	if err != nil {
		return nil, fmt.Errorf("authenticated: %w", err)
	}
	loginTime, err := time.Parse(time.RFC3339Nano, h["login_time"])
	if err != nil {
		return nil, fmt.Errorf("login_time: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}

	return &models.Session{
		ID:            id,
		UserID:        userID,
		Email:         h["email"],
		FirstName:     h["first_name"],
		LastName:      h["last_name"],
		Authenticated: authenticated,
		AuthMethod:    models.AuthMethod(h["auth_method"]),
		LoginTime:     loginTime,
		CreatedAt:     createdAt,
	}, nil
}

// TouchSession resets the TTL of an existing session. It never recreates a
// session that was deleted concurrently.
func (r *RedisDB) TouchSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	start := time.Now()
	err := r.client.Expire(ctx, cache.SessionKey(sessionID), ttl).Err()
	r.record("EXPIRE", start, err)

	if err != nil {
		log.Error().Err(err).Msg("Failed to refresh session TTL")
		return &apperr.StoreError{Op: "touch_session"}
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (r *RedisDB) DeleteSession(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := r.client.Del(ctx, cache.SessionKey(sessionID)).Err()
	r.record("DEL", start, err)

	if err != nil {
		log.Error().Err(err).Msg("Failed to delete session")
		return &apperr.StoreError{Op: "delete_session"}
	}
	return nil
}

// IncrementRateLimit counts one request in the fixed window of ip+bucket.
// It returns the count including this request and the time left in the
// window. INCR and EXPIRE NX share one MULTI/EXEC, so a counter can never
// outlive its window.
//
// Example:
//
//	count, resetIn, err := redisDB.IncrementRateLimit(ctx, "203.0.113.42", "auth:login", time.Minute)
//	if count > 20 {
//	    // reject, retry after resetIn
//	}
func (r *RedisDB) IncrementRateLimit(ctx context.Context, ip, bucket string, window time.Duration) (int64, time.Duration, error) {
	key := cache.RateLimitKey(ip, bucket)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd

	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	r.record("INCR", start, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	resetIn := ttl.Val()
	if resetIn <= 0 || resetIn > window {
		resetIn = window
	}
	return incr.Val(), resetIn, nil
}
