// Package models defines the core domain records of the storefront auth core:
// users, sessions, activity-log entries and remember-me tokens.
//
// Sensitive fields are marked with `json:"-"` so they can never be serialized
// into an API response by accident.
package models

import (
	"strings"
	"time"
)

// UserStatus is the account state. Only active users may authenticate.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
	StatusPending   UserStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// User represents a storefront account.
//
// Email is unique across all users and always stored lower-cased. PasswordHash
// is an argon2id PHC string; Google accounts get a hash of a random secret that
// nobody knows, so password login for them is never possible.
type User struct {
	ID            int64      `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	FirstName     string     `json:"first_name" db:"first_name"`
	LastName      string     `json:"last_name" db:"last_name"`
	Status        UserStatus `json:"status" db:"status"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	GoogleID      *string    `json:"-" db:"google_id"` // Set on first Google login
	PictureURL    *string    `json:"picture_url,omitempty" db:"picture_url"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty" db:"last_login"` // Nullable until first login
}

// CanAuthenticate reports whether the account is allowed to sign in.
func (u *User) CanAuthenticate() bool {
	return u.Status == StatusActive
}

// Public returns the identity subset that may be sent to clients.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// PublicUser is the client-visible identity returned by login, register,
// google-login and check-session.
//
// JSON example:
//
//	{"id": 42, "email": "alice@example.com", "first_name": "Alice", "last_name": "Smith"}
type PublicUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// NewUser is the insert payload for the credential store.
type NewUser struct {
	Email             string
	PasswordHash      string
	FirstName         string
	LastName          string
	Status            UserStatus
	EmailVerified     bool
	VerificationToken string
	GoogleID          *string
	PictureURL        *string
}

// NormalizeEmail trims and lower-cases an email address. Every lookup and
// insert goes through it so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
