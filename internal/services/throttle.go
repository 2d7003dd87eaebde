package services

import (
	"context"
	"time"

	"github.com/ieraasyl/StorefrontAuth/pkg/cache"
	"github.com/rs/zerolog/log"
)

// LoginThrottle counts failed password logins per email in a fixed window.
// Once the count reaches the limit, further attempts are refused until the
// window (started by the first failure) expires.
//
// Redis errors fail open: a throttle outage must not lock everybody out.
type LoginThrottle struct {
	cache       *cache.Cache
	maxAttempts int
	window      time.Duration
}

// NewLoginThrottle creates a throttle. maxAttempts <= 0 disables it.
//
// Example:
//
//	throttle := services.NewLoginThrottle(cacheInstance, 5, 15*time.Minute)
func NewLoginThrottle(c *cache.Cache, maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{
		cache:       c,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func (t *LoginThrottle) enabled() bool {
	return t != nil && t.cache != nil && t.maxAttempts > 0
}

// Locked reports whether email has used up its failed attempts.
func (t *LoginThrottle) Locked(ctx context.Context, email string) bool {
	if !t.enabled() {
		return false
	}
	count, err := t.cache.Counter(ctx, cache.LoginFailuresKey(email))
	if err != nil {
		log.Warn().Err(err).Msg("Login throttle unavailable, allowing attempt")
		return false
	}
	return count >= int64(t.maxAttempts)
}

// Fail records one failed attempt for email.
func (t *LoginThrottle) Fail(ctx context.Context, email string) {
	if !t.enabled() {
		return
	}
	count, err := t.cache.IncrementWithTTL(ctx, cache.LoginFailuresKey(email), t.window)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record login failure")
		return
	}
	if count == int64(t.maxAttempts) {
		log.Warn().Str("email", email).Int64("failures", count).Msg("Login locked out")
	}
}

// Reset clears the failure count after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, email string) {
	if !t.enabled() {
		return
	}
	if err := t.cache.Delete(ctx, cache.LoginFailuresKey(email)); err != nil {
		log.Warn().Err(err).Msg("Failed to reset login failures")
	}
}
