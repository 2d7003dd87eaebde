// Package testutil provides common testing utilities, fixtures, and helpers
// for use across all test files in the StorefrontAuth project.
package testutil

import (
	"time"

	"github.com/ieraasyl/StorefrontAuth/internal/models"
)

// TestUser creates an active, verified test user with default values.
// PasswordHash is empty; tests that log in set it from a real hasher.
func TestUser() *models.User {
	return &models.User{
		ID:            1,
		Email:         "alice@example.com",
		FirstName:     "Alice",
		LastName:      "Smith",
		Status:        models.StatusActive,
		EmailVerified: true,
		CreatedAt:     time.Now(),
	}
}

// TestUserWithEmail creates a test user with a specific email
func TestUserWithEmail(email string) *models.User {
	user := TestUser()
	user.Email = email
	return user
}

// TestUserWithID creates a test user with a specific ID
func TestUserWithID(id int64) *models.User {
	user := TestUser()
	user.ID = id
	return user
}

// TestAuthenticatedSession creates a session authenticated as user with the
// given id, created at createdAt.
func TestAuthenticatedSession(id string, user *models.User, createdAt time.Time) *models.Session {
	return &models.Session{
		ID:            id,
		UserID:        user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Authenticated: true,
		AuthMethod:    models.AuthMethodPassword,
		LoginTime:     createdAt,
		CreatedAt:     createdAt,
	}
}

// TestRequestMeta returns request metadata as a browser would send it.
func TestRequestMeta() models.RequestMeta {
	return models.RequestMeta{
		IPAddress: IPAddresses.Public,
		UserAgent: UserAgents.Chrome,
		RequestID: "test-request-id",
	}
}

// TimePtr returns a pointer to the given time
func TimePtr(t time.Time) *time.Time {
	return &t
}

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to the given int64
func Int64Ptr(i int64) *int64 {
	return &i
}

// UserAgents provides common user agent strings for testing
var UserAgents = struct {
	Chrome       string
	Safari       string
	Firefox      string
	MobileSafari string
	Unknown      string
}{
	Chrome:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Safari:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	Firefox:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	MobileSafari: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	Unknown:      "",
}

// IPAddresses provides test IP addresses
var IPAddresses = struct {
	Public    string
	Private   string
	Localhost string
}{
	Public:    "203.0.113.42",
	Private:   "192.168.1.100",
	Localhost: "127.0.0.1",
}
