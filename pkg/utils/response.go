// Package utils provides helpers shared by handlers and middleware: the JSON
// response envelope, request ID propagation, cookie handling, client IP
// extraction and retry with backoff.
package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// requestIDKey is the context key for request ID
const requestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if the context is nil or no request ID is present.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID adds a request ID to the context.
// Called by the logging middleware for every inbound request.
//
// Example:
//
//	ctx := utils.WithRequestID(r.Context(), uuid.New().String())
//	r = r.WithContext(ctx)
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ErrorResponse is the single failure shape of the API.
//
// JSON example:
//
//	{"error": "Invalid email or password"}
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError sends {"error": message} with the given status code.
// The request ID travels in the X-Request-ID header, not in the body.
//
// Example:
//
//	utils.RespondWithError(w, r, http.StatusUnauthorized, "Invalid email or password")
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	RespondWithJSON(w, r, statusCode, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response with the given status code and data.
//
// Example:
//
//	utils.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"logged_in": false})
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Msg("Failed to encode JSON response")
	}
}

// SetAuthCookie sets an HttpOnly, SameSite=Lax cookie on "/". In production
// the cookie is also marked Secure.
//
// Example:
//
//	utils.SetAuthCookie(w, "remember_token", token, time.Now().Add(30*24*time.Hour), cfg.Server.IsProduction())
func SetAuthCookie(w http.ResponseWriter, name, value string, expires time.Time, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

// SetSessionCookie sets a browser-session cookie (no Expires), used for the
// session identifier. Its server-side record carries the real lifetime.
func SetSessionCookie(w http.ResponseWriter, name, value string, isProduction bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearAuthCookie instructs the browser to delete a cookie immediately.
//
// Example:
//
//	utils.ClearAuthCookie(w, "remember_token")
func ClearAuthCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
}
