// Package services implements the storefront authentication core: password
// hashing, token generation, the session state machine, remember-me tokens,
// Google ID-token verification, failed-login throttling, activity logging
// and the auth operations that combine them.
//
// Every operation receives the caller's session explicitly and mutates it in
// place; the HTTP layer reads the result back to set or clear cookies.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/pkg/apperr"
	"github.com/rs/zerolog/log"
)

// Client messages. Login failures share one message so the response does
// not reveal whether the account exists.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgEmailUnverified    = "Please verify your email address first"
	msgEmailTaken         = "Email already registered"
	msgLockedOut          = "Too many failed login attempts. Please try again later."
	msgInvalidGoogle      = "Invalid Google authentication data"
	msgAccountInactive    = "Account is not active"
	msgGoogleDisabled     = "Google login is not configured"

	msgLoginError    = "An error occurred during login"
	msgRegisterError = "An error occurred during registration"
	msgGoogleError   = "An error occurred during Google login"
)

// CredentialStore is the persistence boundary for user records.
// PostgresDB is the production implementation.
type CredentialStore interface {
	FindActiveUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	InsertUser(ctx context.Context, u models.NewUser) (int64, error)
	TouchLastLogin(ctx context.Context, id int64) error
	LinkGoogleID(ctx context.Context, id int64, googleID string, pictureURL *string) error
}

// IDTokenVerifier verifies a third-party ID token. GoogleVerifier is the
// production implementation.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*GoogleIdentity, error)
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Users    CredentialStore
	Hasher   *PasswordHasher
	Sessions *SessionManager
	Activity *ActivityLogger
	Remember *RememberService
	Google   IDTokenVerifier
	Throttle *LoginThrottle // nil disables lockout
	Inputs   *InputValidator

	// RequireEmailVerification makes new password accounts start unverified.
	RequireEmailVerification bool
}

// AuthService implements register, login, google-login, logout and
// check-session on top of the credential store and the session manager.
type AuthService struct {
	users                    CredentialStore
	hasher                   *PasswordHasher
	sessions                 *SessionManager
	activity                 *ActivityLogger
	remember                 *RememberService
	google                   IDTokenVerifier
	throttle                 *LoginThrottle
	inputs                   *InputValidator
	requireEmailVerification bool
}

// AuthResult is the outcome of a successful operation.
type AuthResult struct {
	Message string
	User    *models.PublicUser

	// Remember is set when a remember-me cookie must be written.
	Remember *IssuedToken
}

// SessionStatus is the check-session payload.
//
// JSON example:
//
//	{"logged_in": true, "user": {"id": 42, "email": "alice@example.com", ...}}
type SessionStatus struct {
	LoggedIn bool               `json:"logged_in"`
	User     *models.PublicUser `json:"user,omitempty"`
}

// NewAuthService wires the auth operations.
//
// Example:
//
//	authSvc := services.NewAuthService(services.AuthDeps{
//	    Users:    pgDB,
//	    Hasher:   services.NewPasswordHasher(services.DefaultArgon2Params()),
//	    Sessions: sessions,
//	    Activity: activity,
//	    Remember: remember,
//	    Google:   verifier,
//	    Throttle: throttle,
//	    Inputs:   services.NewInputValidator(cfg.Security.PasswordMinLength),
//	})
func NewAuthService(deps AuthDeps) *AuthService {
	return &AuthService{
		users:                    deps.Users,
		hasher:                   deps.Hasher,
		sessions:                 deps.Sessions,
		activity:                 deps.Activity,
		remember:                 deps.Remember,
		google:                   deps.Google,
		throttle:                 deps.Throttle,
		inputs:                   deps.Inputs,
		requireEmailVerification: deps.RequireEmailVerification,
	}
}

// Register creates a password account and signs the session in as it.
//
// Steps:
//  1. Normalize and validate the input (400)
//  2. Reject an email that is already registered (409)
//  3. Hash the password and generate a verification token
//  4. Insert the user; the unique index on email settles concurrent attempts
//  5. Log user_registered and authenticate the session
func (s *AuthService) Register(ctx context.Context, sess *models.Session, in RegisterInput, meta models.RequestMeta) (*AuthResult, error) {
	if err := s.inputs.Register(&in); err != nil {
		return nil, err
	}

	_, err := s.users.FindUserByEmail(ctx, in.Email)
	switch {
	case err == nil:
		return nil, apperr.Conflict(msgEmailTaken)
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, apperr.Internal(msgRegisterError, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal(msgRegisterError, err)
	}
	verificationToken, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, apperr.Internal(msgRegisterError, err)
	}

	newUser := models.NewUser{
		Email:             in.Email,
		PasswordHash:      hash,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Status:            models.StatusActive,
		EmailVerified:     !s.requireEmailVerification,
		VerificationToken: verificationToken,
	}
	id, err := s.users.InsertUser(ctx, newUser)
	if errors.Is(err, apperr.ErrEmailTaken) {
		return nil, apperr.Conflict(msgEmailTaken)
	}
	if err != nil {
		return nil, apperr.Internal(msgRegisterError, err)
	}

	user := &models.User{
		ID:            id,
		Email:         newUser.Email,
		FirstName:     newUser.FirstName,
		LastName:      newUser.LastName,
		Status:        newUser.Status,
		EmailVerified: newUser.EmailVerified,
	}

	s.activity.Record(ctx, &user.ID, models.ActionUserRegistered, map[string]interface{}{"method": "email"}, meta)

	if err := s.sessions.Login(ctx, sess, user, models.AuthMethodPassword); err != nil {
		return nil, apperr.Internal(msgRegisterError, err)
	}

	log.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User registered")

	public := user.Public()
	return &AuthResult{Message: "Registration successful", User: &public}, nil
}

// Login authenticates with email and password.
//
// An unknown email and a wrong password produce the same 401; the activity
// log keeps the real reason. The verification check runs only after the
// password matched.
func (s *AuthService) Login(ctx context.Context, sess *models.Session, in LoginInput, meta models.RequestMeta) (*AuthResult, error) {
	if err := s.inputs.Login(&in); err != nil {
		return nil, err
	}

	if s.throttle.Locked(ctx, in.Email) {
		s.activity.Record(ctx, nil, models.ActionLoginFailed, map[string]interface{}{
			"email":  in.Email,
			"reason": "locked_out",
		}, meta)
		return nil, apperr.TooManyRequests(msgLockedOut)
	}

	user, err := s.users.FindActiveUserByEmail(ctx, in.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		s.activity.Record(ctx, nil, models.ActionLoginFailed, map[string]interface{}{
			"email":  in.Email,
			"reason": "user_not_found",
		}, meta)
		s.throttle.Fail(ctx, in.Email)
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		return nil, apperr.Internal(msgLoginError, err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.activity.Record(ctx, &user.ID, models.ActionLoginFailed, map[string]interface{}{
			"reason": "invalid_password",
		}, meta)
		s.throttle.Fail(ctx, in.Email)
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	if !user.EmailVerified {
		return nil, apperr.Forbidden(msgEmailUnverified)
	}

	s.throttle.Reset(ctx, in.Email)

	if err := s.sessions.Login(ctx, sess, user, models.AuthMethodPassword); err != nil {
		return nil, apperr.Internal(msgLoginError, err)
	}
	s.touchLastLogin(ctx, user.ID)
	s.activity.Record(ctx, &user.ID, models.ActionLoginSuccess, map[string]interface{}{"method": "password"}, meta)

	result := &AuthResult{Message: "Login successful"}
	public := user.Public()
	result.User = &public

	if in.Remember {
		token, err := s.remember.Issue(ctx, user.ID)
		if err != nil {
			// The login itself succeeded; the client just won't be remembered.
			log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to issue remember token")
		} else {
			result.Remember = token
		}
	}

	log.Info().Int64("user_id", user.ID).Str("session_id", logID(sess.ID)).Msg("User logged in")
	return result, nil
}

// GoogleLogin signs in with a Google ID token, creating the account on first
// use. The token must verify and must agree with the google_id and email the
// client sent; claims are never trusted unverified.
func (s *AuthService) GoogleLogin(ctx context.Context, sess *models.Session, in GoogleLoginInput, meta models.RequestMeta) (*AuthResult, error) {
	if err := s.inputs.GoogleLogin(&in); err != nil {
		return nil, err
	}

	identity, err := s.google.Verify(ctx, in.Token)
	switch {
	case errors.Is(err, ErrGoogleNotConfigured):
		return nil, apperr.Internal(msgGoogleDisabled, err)
	case errors.Is(err, ErrInvalidGoogleToken):
		log.Warn().Err(err).Str("email", in.Email).Msg("Rejected Google ID token")
		return nil, apperr.Unauthorized(msgInvalidGoogle)
	case err != nil:
		return nil, apperr.Internal(msgGoogleError, err)
	}

	if identity.Subject != in.GoogleID || models.NormalizeEmail(identity.Email) != in.Email || !identity.EmailVerified {
		log.Warn().Str("email", in.Email).Msg("Google ID token does not match the submitted identity")
		return nil, apperr.Unauthorized(msgInvalidGoogle)
	}

	picture := in.Picture
	if identity.Picture != "" {
		picture = identity.Picture
	}
	// Verified names win; the client's copy fills in what the token omits.
	firstName, lastName := in.FirstName, in.LastName
	if name := TruncateName(s.inputs.SanitizeName(identity.GivenName)); name != "" {
		firstName = name
	}
	if name := TruncateName(s.inputs.SanitizeName(identity.FamilyName)); name != "" {
		lastName = name
	}

	user, err := s.users.FindUserByEmail(ctx, in.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.createGoogleUser(ctx, sess, in.Email, identity.Subject, firstName, lastName, picture, meta)
	}
	if err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}
	return s.loginGoogleUser(ctx, sess, user, identity.Subject, picture, meta)
}

func (s *AuthService) createGoogleUser(ctx context.Context, sess *models.Session, email, googleID, firstName, lastName, picture string, meta models.RequestMeta) (*AuthResult, error) {
	// Nobody knows this secret, so password login stays impossible.
	secret, err := GenerateToken(DefaultTokenBytes)
	if err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}

	newUser := models.NewUser{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     firstName,
		LastName:      lastName,
		Status:        models.StatusActive,
		EmailVerified: true,
		GoogleID:      &googleID,
		PictureURL:    optional(picture),
	}
	id, err := s.users.InsertUser(ctx, newUser)
	if errors.Is(err, apperr.ErrEmailTaken) {
		// A concurrent request created the account first; sign in as it.
		existing, err := s.users.FindUserByEmail(ctx, email)
		if err != nil {
			return nil, apperr.Internal(msgGoogleError, err)
		}
		return s.loginGoogleUser(ctx, sess, existing, googleID, picture, meta)
	}
	if errors.Is(err, apperr.ErrGoogleIDTaken) {
		log.Warn().Str("email", email).Msg("Google account is already linked to another user")
		return nil, apperr.Unauthorized(msgInvalidGoogle)
	}
	if err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}

	user := &models.User{
		ID:            id,
		Email:         email,
		FirstName:     firstName,
		LastName:      lastName,
		Status:        models.StatusActive,
		EmailVerified: true,
		GoogleID:      &googleID,
		PictureURL:    newUser.PictureURL,
	}

	s.activity.Record(ctx, &user.ID, models.ActionUserRegistered, map[string]interface{}{"method": "google"}, meta)

	if err := s.sessions.Login(ctx, sess, user, models.AuthMethodGoogle); err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}
	s.touchLastLogin(ctx, user.ID)

	log.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("User registered via Google")

	public := user.Public()
	return &AuthResult{Message: "Account created and logged in", User: &public}, nil
}

func (s *AuthService) loginGoogleUser(ctx context.Context, sess *models.Session, user *models.User, googleID, picture string, meta models.RequestMeta) (*AuthResult, error) {
	if !user.CanAuthenticate() {
		s.activity.Record(ctx, &user.ID, models.ActionLoginFailed, map[string]interface{}{
			"method": "google",
			"reason": "account_" + string(user.Status),
		}, meta)
		return nil, apperr.Forbidden(msgAccountInactive)
	}

	switch {
	case user.GoogleID == nil:
		err := s.users.LinkGoogleID(ctx, user.ID, googleID, optional(picture))
		if errors.Is(err, apperr.ErrGoogleIDTaken) {
			s.activity.Record(ctx, &user.ID, models.ActionLoginFailed, map[string]interface{}{
				"method": "google",
				"reason": "google_id_linked_elsewhere",
			}, meta)
			return nil, apperr.Unauthorized(msgInvalidGoogle)
		}
		if err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to link Google account")
		}
	case *user.GoogleID != googleID:
		s.activity.Record(ctx, &user.ID, models.ActionLoginFailed, map[string]interface{}{
			"method": "google",
			"reason": "google_id_mismatch",
		}, meta)
		return nil, apperr.Unauthorized(msgInvalidGoogle)
	}

	if err := s.sessions.Login(ctx, sess, user, models.AuthMethodGoogle); err != nil {
		return nil, apperr.Internal(msgGoogleError, err)
	}
	s.touchLastLogin(ctx, user.ID)
	s.activity.Record(ctx, &user.ID, models.ActionLoginSuccess, map[string]interface{}{"method": "google"}, meta)

	public := user.Public()
	return &AuthResult{Message: "Login successful", User: &public}, nil
}

// Logout logs the event for an authenticated session, revokes the presented
// remember-me token and destroys the session. It always succeeds from the
// client's point of view.
func (s *AuthService) Logout(ctx context.Context, sess *models.Session, rememberToken string, meta models.RequestMeta) *AuthResult {
	if sess.IsAuthenticated() {
		userID := sess.UserID
		s.activity.Record(ctx, &userID, models.ActionLogout, nil, meta)
	}

	if err := s.remember.Revoke(ctx, rememberToken); err != nil {
		log.Error().Err(err).Msg("Failed to revoke remember token on logout")
	}
	if err := s.sessions.Logout(ctx, sess); err != nil {
		log.Error().Err(err).Msg("Failed to destroy session on logout")
	}

	return &AuthResult{Message: "Logged out successfully"}
}

// CheckSession reports whether sess is authenticated. It has no side effects.
func (s *AuthService) CheckSession(sess *models.Session) SessionStatus {
	if !sess.IsAuthenticated() {
		return SessionStatus{LoggedIn: false}
	}
	user := sess.User()
	return SessionStatus{LoggedIn: true, User: &user}
}

// LoadSession returns the session for a cookie value, Anonymous if unknown.
func (s *AuthService) LoadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.sessions.Load(ctx, sessionID)
}

// RefreshSession applies lazy rotation to a loaded session and records the
// rotation in the activity log. Returns true when the session ID changed.
func (s *AuthService) RefreshSession(ctx context.Context, sess *models.Session, meta models.RequestMeta) (bool, error) {
	rotated, err := s.sessions.Refresh(ctx, sess)
	if err != nil {
		return false, err
	}
	if rotated {
		userID := sess.UserID
		s.activity.Record(ctx, &userID, models.ActionSessionRotated, nil, meta)
	}
	return rotated, nil
}

// Resume re-establishes an authenticated session from a remember-me token.
// The token is single use: on success it is replaced by the returned one.
// ErrInvalidRememberToken means the client's cookie should be cleared.
func (s *AuthService) Resume(ctx context.Context, sess *models.Session, rememberToken string, meta models.RequestMeta) (*IssuedToken, error) {
	rec, err := s.remember.Lookup(ctx, rememberToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindUserByID(ctx, rec.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidRememberToken
	}
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if !user.CanAuthenticate() || !user.EmailVerified {
		if err := s.remember.Revoke(ctx, rememberToken); err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to revoke remember token")
		}
		return nil, ErrInvalidRememberToken
	}

	next, err := s.remember.Rotate(ctx, rememberToken, user.ID)
	if err != nil {
		return nil, err
	}
	s.activity.Record(ctx, &user.ID, models.ActionRememberTokenUsed, map[string]interface{}{"token_id": rec.ID}, meta)

	if err := s.sessions.Login(ctx, sess, user, models.AuthMethodRemember); err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	s.touchLastLogin(ctx, user.ID)
	s.activity.Record(ctx, &user.ID, models.ActionLoginSuccess, map[string]interface{}{"method": "remember_token"}, meta)

	log.Info().Int64("user_id", user.ID).Msg("Session resumed from remember token")
	return next, nil
}

// touchLastLogin records the login time. The login already succeeded, so a
// failure is only logged.
func (s *AuthService) touchLastLogin(ctx context.Context, userID int64) {
	if err := s.users.TouchLastLogin(ctx, userID); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to update last login")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// logID shortens a session ID for log lines.
func logID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
