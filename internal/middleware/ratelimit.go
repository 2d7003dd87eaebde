package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/rs/zerolog/log"
)

// otherBucket collects requests whose action has no budget of its own, so
// made-up action names cannot create unbounded Redis keys.
const otherBucket = "other"

// RateCounter counts requests in fixed windows. *database.RedisDB implements it.
type RateCounter interface {
	IncrementRateLimit(ctx context.Context, ip, bucket string, window time.Duration) (int64, time.Duration, error)
}

// ActionLimits maps an action of the auth endpoint to the number of requests
// one IP may make per window.
type ActionLimits map[string]int

// RateLimiter limits requests per client IP and per action. Each action
// counts against its own budget: a storefront polling check-session does not
// use up the budget for login attempts.
//
// Redis key pattern: "ratelimit:{ip}:{endpoint}:{action}"
type RateLimiter struct {
	counter  RateCounter
	limits   ActionLimits
	fallback int
	window   time.Duration
}

// NewRateLimiter creates a limiter. Actions missing from limits share one
// bucket limited to fallback requests per window.
//
// Example:
//
//	limiter := middleware.NewRateLimiter(redisDB, middleware.ActionLimits{
//	    "login":         20,
//	    "check-session": 300,
//	}, 60, time.Minute)
func NewRateLimiter(counter RateCounter, limits ActionLimits, fallback int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter:  counter,
		limits:   limits,
		fallback: fallback,
		window:   window,
	}
}

// bucket returns the counter name and budget for a request.
func (rl *RateLimiter) bucket(r *http.Request) (string, int) {
	action := r.URL.Query().Get("action")
	if limit, ok := rl.limits[action]; ok {
		return action, limit
	}
	return otherBucket, rl.fallback
}

// Limit returns middleware enforcing the per-action budgets on endpoint.
//
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining. A
// rejected request gets 429 in the error envelope with Retry-After set to the
// seconds left in the window. Counter failures let the request through.
//
// Example:
//
//	r.With(limiter.Limit("auth"), loader.Handler).Handle("/api/auth", authHandler)
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ExtractClientIP(r)
			action, limit := rl.bucket(r)

			count, resetIn, err := rl.counter.IncrementRateLimit(r.Context(), ip, endpoint+":"+action, rl.window)
			if err != nil {
				log.Error().
					Err(err).
					Str("ip", ip).
					Str("action", action).
					Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))

			if count > int64(limit) {
				log.Warn().
					Str("ip", ip).
					Str("action", action).
					Int64("count", count).
					Msg("Rate limit exceeded")
				IncrementRateLimited(action)

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(resetIn.Seconds()))))
				utils.RespondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(limit)-count, 10))
			next.ServeHTTP(w, r)
		})
	}
}
