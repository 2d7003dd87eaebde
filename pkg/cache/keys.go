package cache

import (
	"fmt"
	"strings"
)

// Key prefixes. All keys follow the pattern "prefix:identifier".
const (
	SessionPrefix       = "session:"
	LoginFailuresPrefix = "login_failures:"
	RateLimitPrefix     = "ratelimit:"
)

// SessionKey generates the key of a session hash.
//
// Example: "session:9f86d081884c7d659a2feaa0c55ad015..."
func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s%s", SessionPrefix, sessionID)
}

// LoginFailuresKey generates the failed-login counter key for an email.
// The email is lower-cased so "Alice@Example.com" and "alice@example.com"
// share a counter.
//
// Example: "login_failures:alice@example.com"
func LoginFailuresKey(email string) string {
	return fmt.Sprintf("%s%s", LoginFailuresPrefix, strings.ToLower(strings.TrimSpace(email)))
}

// RateLimitKey generates the per-IP request counter key for a bucket.
//
// Example: "ratelimit:203.0.113.42:auth:login"
func RateLimitKey(ip, bucket string) string {
	return fmt.Sprintf("%s%s:%s", RateLimitPrefix, ip, bucket)
}
