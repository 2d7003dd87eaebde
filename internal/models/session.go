package models

import (
	"errors"
	"time"
)

// AuthMethod records how a session became authenticated.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodGoogle   AuthMethod = "google"
	AuthMethodRemember AuthMethod = "remember"
)

// ErrInvalidIdentity is returned when a session would be populated with a
// user that has no id or email.
var ErrInvalidIdentity = errors.New("session identity requires user id and email")

// Session is the server-held authentication context of one client.
//
// A session is either Anonymous (Authenticated false, every identity field
// zero) or Authenticated (every identity field taken from one User). The only
// ways to change state are Authenticate and Clear, which keep that invariant.
type Session struct {
	ID            string     `json:"-"`
	UserID        int64      `json:"user_id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	Authenticated bool       `json:"authenticated"`
	AuthMethod    AuthMethod `json:"auth_method"`
	LoginTime     time.Time  `json:"login_time"`
	CreatedAt     time.Time  `json:"created_at"` // Drives rotation
}

// NewAnonymousSession returns the initial state of every new client context.
// It has no identifier until it is first persisted.
func NewAnonymousSession(now time.Time) *Session {
	return &Session{CreatedAt: now}
}

// Authenticate moves the session to Authenticated for user.
func (s *Session) Authenticate(user *User, method AuthMethod, now time.Time) error {
	if user == nil || user.ID <= 0 || user.Email == "" {
		return ErrInvalidIdentity
	}
	s.UserID = user.ID
	s.Email = user.Email
	s.FirstName = user.FirstName
	s.LastName = user.LastName
	s.Authenticated = true
	s.AuthMethod = method
	s.LoginTime = now
	s.CreatedAt = now
	return nil
}

// Clear returns the session to Anonymous and forgets its identifier.
func (s *Session) Clear(now time.Time) {
	*s = Session{CreatedAt: now}
}

// IsAuthenticated reports whether the session carries a user identity.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Authenticated && s.UserID > 0
}

// NeedsRotation reports whether an authenticated session is older than lifetime.
func (s *Session) NeedsRotation(lifetime time.Duration, now time.Time) bool {
	return s.IsAuthenticated() && now.Sub(s.CreatedAt) > lifetime
}

// User returns the public identity carried by an authenticated session.
func (s *Session) User() PublicUser {
	return PublicUser{
		ID:        s.UserID,
		Email:     s.Email,
		FirstName: s.FirstName,
		LastName:  s.LastName,
	}
}
