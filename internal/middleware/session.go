// Package middleware provides HTTP middleware components for the API.
// Middleware functions wrap HTTP handlers to provide cross-cutting concerns
// like session loading, logging, metrics, and rate limiting.
//
// Middleware in this package:
//   - Session loading, lazy rotation and remember-me resume
//   - Structured request/response logging with correlation IDs
//   - Prometheus metrics collection
//   - Rate limiting per IP address
//
// All middleware is designed to be composable with Chi router.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/internal/services"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// sessionKey is the context key for the request's *models.Session.
const sessionKey contextKey = "session"

// RememberCookieName is the cookie carrying the plaintext remember-me token.
const RememberCookieName = "remember_token"

// SessionResolver is the part of the auth service the loader needs.
// *services.AuthService implements it.
type SessionResolver interface {
	LoadSession(ctx context.Context, sessionID string) (*models.Session, error)
	RefreshSession(ctx context.Context, sess *models.Session, meta models.RequestMeta) (bool, error)
	Resume(ctx context.Context, sess *models.Session, rememberToken string, meta models.RequestMeta) (*services.IssuedToken, error)
}

// SessionLoader attaches the caller's session to every request.
type SessionLoader struct {
	resolver     SessionResolver
	cookieName   string
	isProduction bool
	noResume     map[string]bool // actions that must not consume a remember token
}

// NewSessionLoader creates a session loader.
//
// Example:
//
//	loader := middleware.NewSessionLoader(authSvc, cfg.Session.CookieName, cfg.Server.IsProduction()).
//	    SkipResumeFor("logout")
//	r.With(loader.Handler).Handle("/api/auth", authHandler)
func NewSessionLoader(resolver SessionResolver, cookieName string, isProduction bool) *SessionLoader {
	return &SessionLoader{
		resolver:     resolver,
		cookieName:   cookieName,
		isProduction: isProduction,
		noResume:     make(map[string]bool),
	}
}

// SkipResumeFor disables remember-me resume for the given values of the
// action query parameter. Logout needs this: resuming first would rotate the
// token it is about to revoke and hand the client a fresh one.
func (l *SessionLoader) SkipResumeFor(actions ...string) *SessionLoader {
	for _, action := range actions {
		l.noResume[action] = true
	}
	return l
}

// Handler loads the session named by the session cookie and stores it in the
// request context.
//
// Flow:
//  1. Load the session; an unknown identifier yields Anonymous and the stale
//     cookie is cleared
//  2. Authenticated: rotate if older than the lifetime, otherwise extend the
//     idle TTL. A rotation rewrites the session cookie
//  3. Anonymous with a remember_token cookie: resume the login, rewrite both
//     cookies; an invalid token clears the remember cookie
//
// Store failures never fail the request. The handler sees an Anonymous
// session, and the client keeps its cookies: no stale-cookie clearing and no
// resume, since the stored session may be fine once the store answers again.
func (l *SessionLoader) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		meta := RequestMeta(r)

		var cookieID string
		if c, err := r.Cookie(l.cookieName); err == nil {
			cookieID = c.Value
		}

		sess, err := l.resolver.LoadSession(ctx, cookieID)
		storeFailed := err != nil
		if storeFailed {
			log.Error().
				Err(err).
				Str("request_id", meta.RequestID).
				Msg("Failed to load session")
		}
		if sess == nil {
			sess = models.NewAnonymousSession(time.Now())
		}

		switch {
		case sess.IsAuthenticated():
			l.refresh(w, r, sess, meta)
		case storeFailed:
		case cookieID != "":
			utils.ClearAuthCookie(w, l.cookieName)
		}

		if !sess.IsAuthenticated() && !storeFailed && !l.noResume[r.URL.Query().Get("action")] {
			l.resume(w, r, sess, meta)
		}

		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
	})
}

func (l *SessionLoader) refresh(w http.ResponseWriter, r *http.Request, sess *models.Session, meta models.RequestMeta) {
	rotated, err := l.resolver.RefreshSession(r.Context(), sess, meta)
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", sess.UserID).
			Str("request_id", meta.RequestID).
			Msg("Failed to refresh session")
		return
	}
	if rotated {
		utils.SetSessionCookie(w, l.cookieName, sess.ID, l.isProduction)
	}
}

func (l *SessionLoader) resume(w http.ResponseWriter, r *http.Request, sess *models.Session, meta models.RequestMeta) {
	c, err := r.Cookie(RememberCookieName)
	if err != nil || c.Value == "" {
		return
	}

	next, err := l.resolver.Resume(r.Context(), sess, c.Value, meta)
	switch {
	case errors.Is(err, services.ErrInvalidRememberToken):
		utils.ClearAuthCookie(w, RememberCookieName)
		return
	case err != nil:
		log.Error().
			Err(err).
			Str("request_id", meta.RequestID).
			Msg("Failed to resume session from remember token")
		return
	}

	utils.SetSessionCookie(w, l.cookieName, sess.ID, l.isProduction)
	utils.SetAuthCookie(w, RememberCookieName, next.Token, next.ExpiresAt, l.isProduction)
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// GetSession returns the session stored by SessionLoader.
// The boolean is false when the loader did not run for this request.
//
// Example:
//
//	sess, ok := middleware.GetSession(r.Context())
//	if ok && sess.IsAuthenticated() {
//	    log.Info().Int64("user_id", sess.UserID).Msg("Request from signed-in user")
//	}
func GetSession(ctx context.Context) (*models.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*models.Session)
	return sess, ok && sess != nil
}

// RequestMeta collects the attributes recorded with activity-log entries.
func RequestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: utils.ExtractClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: utils.GetRequestID(r.Context()),
	}
}
