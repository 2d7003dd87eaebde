package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/rs/zerolog/log"
)

// SessionStore defines the session persistence operations.
// RedisDB is the production implementation.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *models.Session, ttl time.Duration) error
	LoadSession(ctx context.Context, sessionID string) (*models.Session, error)
	TouchSession(ctx context.Context, sessionID string, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionManager owns the session state machine:
//
//	Anonymous --login--> Authenticated --logout--> Anonymous
//	Authenticated --(age > lifetime)--> Authenticated (new id)
//
// Anonymous sessions are never persisted. Every transition to Authenticated
// issues a new identifier, so an identifier planted before login is useless
// afterwards. Rotation is evaluated lazily when a request loads its session.
type SessionManager struct {
	store       SessionStore
	lifetime    time.Duration // Rotation threshold
	idleTimeout time.Duration // Store TTL
	now         func() time.Time
	onRotate    func()
}

// NewSessionManager creates a session manager from the session config.
// onRotate may be nil; main passes the rotation metrics counter.
//
// Example:
//
//	sessions := services.NewSessionManager(redisDB, cfg.Session, middleware.IncrementSessionRotations)
func NewSessionManager(store SessionStore, cfg config.SessionConfig, onRotate func()) *SessionManager {
	return &SessionManager{
		store:       store,
		lifetime:    cfg.Lifetime,
		idleTimeout: cfg.IdleTimeout,
		now:         time.Now,
		onRotate:    onRotate,
	}
}

// Load returns the session identified by sessionID, or a new Anonymous session
// when the id is empty, unknown or expired. A store failure is returned along
// with an Anonymous session so callers can still serve the request.
func (m *SessionManager) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return models.NewAnonymousSession(m.now()), nil
	}

	sess, err := m.store.LoadSession(ctx, sessionID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.NewAnonymousSession(m.now()), nil
	}
	if err != nil {
		return models.NewAnonymousSession(m.now()), fmt.Errorf("load session: %w", err)
	}
	if !sess.IsAuthenticated() {
		// Only authenticated sessions are ever written; anything else is stale.
		return models.NewAnonymousSession(m.now()), nil
	}
	return sess, nil
}

// Refresh applies the per-request policy to a loaded session: an
// authenticated session older than the lifetime is rotated, any other
// authenticated session has its idle TTL extended. Returns true when the
// identifier changed and the client needs a new cookie.
func (m *SessionManager) Refresh(ctx context.Context, sess *models.Session) (bool, error) {
	if !sess.IsAuthenticated() {
		return false, nil
	}

	if sess.NeedsRotation(m.lifetime, m.now()) {
		if err := m.rotate(ctx, sess); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := m.store.TouchSession(ctx, sess.ID, m.idleTimeout); err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return false, nil
}

// rotate moves the session to a new identifier, keeping the identity and
// login time and resetting created_at. The old record is deleted after the new
// one is written; if that delete fails the old record simply ages out.
func (m *SessionManager) rotate(ctx context.Context, sess *models.Session) error {
	oldID := sess.ID

	newID, err := GenerateSessionID()
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}

	rotated := *sess
	rotated.ID = newID
	rotated.CreatedAt = m.now()

	if err := m.store.SaveSession(ctx, &rotated, m.idleTimeout); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if err := m.store.DeleteSession(ctx, oldID); err != nil {
		log.Warn().Err(err).Int64("user_id", sess.UserID).Msg("Failed to delete rotated session")
	}

	*sess = rotated

	if m.onRotate != nil {
		m.onRotate()
	}
	log.Info().Int64("user_id", sess.UserID).Msg("Session rotated")
	return nil
}

// Login authenticates sess as user under a fresh identifier and persists it.
// Any record under the previous identifier is deleted.
func (m *SessionManager) Login(ctx context.Context, sess *models.Session, user *models.User, method models.AuthMethod) error {
	oldID := sess.ID

	newID, err := GenerateSessionID()
	if err != nil {
		return fmt.Errorf("login session: %w", err)
	}

	next := models.Session{ID: newID}
	if err := next.Authenticate(user, method, m.now()); err != nil {
		return fmt.Errorf("login session: %w", err)
	}
	if err := m.store.SaveSession(ctx, &next, m.idleTimeout); err != nil {
		return fmt.Errorf("login session: %w", err)
	}

	if oldID != "" {
		if err := m.store.DeleteSession(ctx, oldID); err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to delete pre-login session")
		}
	}

	*sess = next
	return nil
}

// Logout destroys the stored session and returns sess to Anonymous. The
// in-memory session is cleared even when the delete fails.
func (m *SessionManager) Logout(ctx context.Context, sess *models.Session) error {
	id := sess.ID
	sess.Clear(m.now())

	if id == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("logout session: %w", err)
	}
	return nil
}
