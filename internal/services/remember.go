package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/rs/zerolog/log"
)

// RememberStore persists remember-me token digests.
type RememberStore interface {
	InsertRememberToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	FindRememberToken(ctx context.Context, tokenHash string) (*models.RememberToken, error)
	DeleteRememberToken(ctx context.Context, tokenHash string) error
	RotateRememberToken(ctx context.Context, oldHash string, userID int64, newHash string, expiresAt time.Time) error
}

// ErrInvalidRememberToken is returned for unknown, expired or already used tokens.
var ErrInvalidRememberToken = errors.New("invalid remember token")

// IssuedToken is a plaintext remember-me token and its expiry, ready to be
// written into the client's cookie.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// RememberService issues, redeems and revokes remember-me tokens.
type RememberService struct {
	store  RememberStore
	expiry time.Duration
	now    func() time.Time
}

// NewRememberService creates a remember-me service. expiry is both the token
// lifetime and the cookie lifetime (30 days by default).
func NewRememberService(store RememberStore, expiry time.Duration) *RememberService {
	return &RememberService{
		store:  store,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue creates a new token for userID.
func (s *RememberService) Issue(ctx context.Context, userID int64) (*IssuedToken, error) {
	token, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("issue remember token: %w", err)
	}
	expiresAt := s.now().Add(s.expiry)

	if err := s.store.InsertRememberToken(ctx, userID, HashToken(token), expiresAt); err != nil {
		return nil, fmt.Errorf("issue remember token: %w", err)
	}
	return &IssuedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Lookup returns the stored record for a presented token. Expired tokens are
// deleted and reported as ErrInvalidRememberToken.
func (s *RememberService) Lookup(ctx context.Context, token string) (*models.RememberToken, error) {
	if token == "" {
		return nil, ErrInvalidRememberToken
	}
	hash := HashToken(token)

	rec, err := s.store.FindRememberToken(ctx, hash)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidRememberToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup remember token: %w", err)
	}

	if rec.Expired(s.now()) {
		if err := s.store.DeleteRememberToken(ctx, hash); err != nil {
			log.Warn().Err(err).Int64("user_id", rec.UserID).Msg("Failed to delete expired remember token")
		}
		return nil, ErrInvalidRememberToken
	}
	return rec, nil
}

// Rotate consumes token and returns its replacement. A token that another
// request consumed first yields ErrInvalidRememberToken.
func (s *RememberService) Rotate(ctx context.Context, token string, userID int64) (*IssuedToken, error) {
	next, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("rotate remember token: %w", err)
	}
	expiresAt := s.now().Add(s.expiry)

	err = s.store.RotateRememberToken(ctx, HashToken(token), userID, HashToken(next), expiresAt)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidRememberToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotate remember token: %w", err)
	}
	return &IssuedToken{Token: next, ExpiresAt: expiresAt}, nil
}

// Revoke deletes a token. Revoking an empty or unknown token is a no-op.
func (s *RememberService) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteRememberToken(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("revoke remember token: %w", err)
	}
	return nil
}
