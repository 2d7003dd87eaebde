package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
	"github.com/ieraasyl/StorefrontAuth/internal/services"
	"github.com/ieraasyl/StorefrontAuth/internal/testutil"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSessionResolver struct {
	mock.Mock
}

func (m *MockSessionResolver) LoadSession(ctx context.Context, sessionID string) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionResolver) RefreshSession(ctx context.Context, sess *models.Session, meta models.RequestMeta) (bool, error) {
	args := m.Called(ctx, sess, meta)
	return args.Bool(0), args.Error(1)
}

func (m *MockSessionResolver) Resume(ctx context.Context, sess *models.Session, rememberToken string, meta models.RequestMeta) (*services.IssuedToken, error) {
	args := m.Called(ctx, sess, rememberToken, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.IssuedToken), args.Error(1)
}

// captureSession records the session the loader attached.
func captureSession(out **models.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := GetSession(r.Context())
		if ok {
			*out = sess
		}
		w.WriteHeader(http.StatusOK)
	})
}

func newAuthRequest(cookies map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth?action=check-session", nil)
	for name, value := range cookies {
		testutil.SetCookie(req, name, value)
	}
	return req
}

func TestSessionLoader(t *testing.T) {
	now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	user := testutil.TestUser()

	t.Run("no cookies yields an anonymous session", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "").Return(models.NewAnonymousSession(now), nil)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).ServeHTTP(rec, newAuthRequest(nil))

		require.NotNil(t, got)
		assert.False(t, got.IsAuthenticated())
		assert.Empty(t, rec.Result().Cookies(), "anonymous sessions get no cookie")
		resolver.AssertNotCalled(t, "RefreshSession", mock.Anything, mock.Anything, mock.Anything)
		resolver.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("authenticated session is refreshed in place", func(t *testing.T) {
		sess := testutil.TestAuthenticatedSession("sid-1", user, now)
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "sid-1").Return(sess, nil)
		resolver.On("RefreshSession", mock.Anything, sess, mock.Anything).Return(false, nil)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "sid-1"}))

		assert.Same(t, sess, got)
		assert.Nil(t, testutil.FindCookie(rec, "session_id"), "unchanged id needs no cookie")
		resolver.AssertExpectations(t)
	})

	t.Run("rotation rewrites the session cookie", func(t *testing.T) {
		sess := testutil.TestAuthenticatedSession("sid-old", user, now)
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "sid-old").Return(sess, nil)
		resolver.On("RefreshSession", mock.Anything, sess, mock.Anything).
			Run(func(args mock.Arguments) {
				args.Get(1).(*models.Session).ID = "sid-new"
			}).
			Return(true, nil)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", true).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "sid-old"}))

		cookie := testutil.AssertCookie(t, rec, "session_id", "sid-new")
		require.NotNil(t, cookie)
		assert.True(t, cookie.HttpOnly)
		assert.True(t, cookie.Secure)
		assert.Equal(t, "sid-new", got.ID)
	})

	t.Run("refresh failure keeps the session", func(t *testing.T) {
		sess := testutil.TestAuthenticatedSession("sid-1", user, now)
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "sid-1").Return(sess, nil)
		resolver.On("RefreshSession", mock.Anything, sess, mock.Anything).Return(false, errors.New("redis down"))

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "sid-1"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, got.IsAuthenticated())
	})

	t.Run("stale session cookie is cleared", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "gone").Return(models.NewAnonymousSession(now), nil)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "gone"}))

		cookie := testutil.FindCookie(rec, "session_id")
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
		assert.Less(t, cookie.MaxAge, 0)
		assert.False(t, got.IsAuthenticated())
	})

	t.Run("store failure falls back to anonymous and keeps the cookies", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "sid-1").Return(nil, errors.New("connection refused"))

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "sid-1", RememberCookieName: "token"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.False(t, got.IsAuthenticated())
		assert.Empty(t, rec.Result().Cookies(), "a store outage must not end the client's session")
		resolver.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("skipped action does not resume", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "").Return(models.NewAnonymousSession(now), nil)

		req := httptest.NewRequest(http.MethodPost, "/api/auth?action=logout", nil)
		testutil.SetCookie(req, RememberCookieName, "token")

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).SkipResumeFor("logout").Handler(captureSession(&got)).
			ServeHTTP(rec, req)

		assert.False(t, got.IsAuthenticated())
		assert.Nil(t, testutil.FindCookie(rec, RememberCookieName))
		resolver.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("remember token resumes the login", func(t *testing.T) {
		expires := now.Add(30 * 24 * time.Hour)
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "").Return(models.NewAnonymousSession(now), nil)
		resolver.On("Resume", mock.Anything, mock.Anything, "old-token", mock.Anything).
			Run(func(args mock.Arguments) {
				sess := args.Get(1).(*models.Session)
				require.NoError(t, sess.Authenticate(user, models.AuthMethodRemember, now))
				sess.ID = "sid-resumed"
			}).
			Return(&services.IssuedToken{Token: "new-token", ExpiresAt: expires}, nil)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{RememberCookieName: "old-token"}))

		assert.True(t, got.IsAuthenticated())
		assert.Equal(t, models.AuthMethodRemember, got.AuthMethod)
		testutil.AssertCookie(t, rec, "session_id", "sid-resumed")
		remember := testutil.AssertCookie(t, rec, RememberCookieName, "new-token")
		require.NotNil(t, remember)
		assert.True(t, remember.HttpOnly)
		assert.WithinDuration(t, expires, remember.Expires, time.Second)
	})

	t.Run("invalid remember token clears the cookie", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "").Return(models.NewAnonymousSession(now), nil)
		resolver.On("Resume", mock.Anything, mock.Anything, "forged", mock.Anything).Return(nil, services.ErrInvalidRememberToken)

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{RememberCookieName: "forged"}))

		assert.False(t, got.IsAuthenticated())
		cookie := testutil.FindCookie(rec, RememberCookieName)
		require.NotNil(t, cookie)
		assert.Empty(t, cookie.Value)
		assert.Nil(t, testutil.FindCookie(rec, "session_id"))
	})

	t.Run("resume infrastructure error keeps the cookie", func(t *testing.T) {
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "").Return(models.NewAnonymousSession(now), nil)
		resolver.On("Resume", mock.Anything, mock.Anything, "valid", mock.Anything).Return(nil, errors.New("db down"))

		var got *models.Session
		rec := httptest.NewRecorder()
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{RememberCookieName: "valid"}))

		assert.False(t, got.IsAuthenticated())
		assert.Nil(t, testutil.FindCookie(rec, RememberCookieName))
	})

	t.Run("authenticated session ignores the remember cookie", func(t *testing.T) {
		sess := testutil.TestAuthenticatedSession("sid-1", user, now)
		resolver := new(MockSessionResolver)
		resolver.On("LoadSession", mock.Anything, "sid-1").Return(sess, nil)
		resolver.On("RefreshSession", mock.Anything, sess, mock.Anything).Return(false, nil)

		rec := httptest.NewRecorder()
		var got *models.Session
		NewSessionLoader(resolver, "session_id", false).Handler(captureSession(&got)).
			ServeHTTP(rec, newAuthRequest(map[string]string{"session_id": "sid-1", RememberCookieName: "token"}))

		resolver.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRequestMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth?action=login", nil)
	req.RemoteAddr = testutil.IPAddresses.Public + ":51234"
	req.Header.Set("User-Agent", testutil.UserAgents.Chrome)
	req = req.WithContext(utils.WithRequestID(req.Context(), "req-1"))

	meta := RequestMeta(req)

	assert.Equal(t, testutil.IPAddresses.Public, meta.IPAddress)
	assert.Equal(t, testutil.UserAgents.Chrome, meta.UserAgent)
	assert.Equal(t, "req-1", meta.RequestID)
}

func TestGetSessionWithoutLoader(t *testing.T) {
	_, ok := GetSession(context.Background())
	assert.False(t, ok)
}
