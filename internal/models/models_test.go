package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateMachine(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	user := &User{ID: 7, Email: "alice@example.com", FirstName: "Alice", LastName: "Smith", Status: StatusActive}

	t.Run("new session is anonymous", func(t *testing.T) {
		s := NewAnonymousSession(now)
		assert.False(t, s.IsAuthenticated())
		assert.Empty(t, s.ID)
		assert.Zero(t, s.UserID)
		assert.False(t, s.NeedsRotation(time.Second, now.Add(time.Hour)))
	})

	t.Run("authenticate populates every identity field", func(t *testing.T) {
		s := NewAnonymousSession(now.Add(-time.Hour))
		require.NoError(t, s.Authenticate(user, AuthMethodPassword, now))

		assert.True(t, s.IsAuthenticated())
		assert.Equal(t, user.Public(), s.User())
		assert.Equal(t, AuthMethodPassword, s.AuthMethod)
		assert.Equal(t, now, s.LoginTime)
		assert.Equal(t, now, s.CreatedAt)
	})

	t.Run("authenticate rejects incomplete users", func(t *testing.T) {
		s := NewAnonymousSession(now)
		assert.ErrorIs(t, s.Authenticate(&User{Email: "x@example.com"}, AuthMethodPassword, now), ErrInvalidIdentity)
		assert.ErrorIs(t, s.Authenticate(nil, AuthMethodGoogle, now), ErrInvalidIdentity)
		assert.False(t, s.IsAuthenticated())
	})

	t.Run("clear returns to anonymous", func(t *testing.T) {
		s := NewAnonymousSession(now)
		require.NoError(t, s.Authenticate(user, AuthMethodGoogle, now))
		s.ID = "abc"

		s.Clear(now.Add(time.Minute))

		assert.False(t, s.IsAuthenticated())
		assert.Empty(t, s.ID)
		assert.Empty(t, s.Email)
		assert.Empty(t, s.AuthMethod)
	})

	t.Run("rotation is due only past the lifetime", func(t *testing.T) {
		s := NewAnonymousSession(now)
		require.NoError(t, s.Authenticate(user, AuthMethodPassword, now))

		assert.False(t, s.NeedsRotation(time.Hour, now.Add(time.Hour)))
		assert.True(t, s.NeedsRotation(time.Hour, now.Add(time.Hour+time.Second)))
	})
}

func TestUser(t *testing.T) {
	u := &User{ID: 1, Email: "bob@example.com", PasswordHash: "secret-hash", Status: StatusPending}

	assert.False(t, u.CanAuthenticate())
	u.Status = StatusActive
	assert.True(t, u.CanAuthenticate())

	assert.True(t, StatusSuspended.Valid())
	assert.False(t, UserStatus("deleted").Valid())

	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}

func TestRememberTokenExpired(t *testing.T) {
	now := time.Now()
	tok := &RememberToken{ExpiresAt: now.Add(time.Minute)}

	assert.False(t, tok.Expired(now))
	assert.True(t, tok.Expired(now.Add(time.Minute)))
}
