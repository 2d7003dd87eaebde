package models

import "time"

// RememberToken is a long-lived credential that can re-establish a session
// without a password. Only the SHA-256 digest of the token is stored; the
// plaintext exists only in the client's remember_token cookie.
//
// A user may hold many tokens (one per browser). Tokens are single use:
// a successful resume deletes the presented token and issues a new one.
type RememberToken struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the token can no longer be used.
func (t *RememberToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
