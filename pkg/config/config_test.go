package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("fails without database password", func(t *testing.T) {
		t.Setenv("POSTGRES_PASSWORD", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTGRES_PASSWORD")
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("POSTGRES_PASSWORD", "secret")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, time.Hour, cfg.Session.Lifetime)
		assert.Equal(t, "session_id", cfg.Session.CookieName)
		assert.Equal(t, 30*24*time.Hour, cfg.Session.RememberExpiry)
		assert.Equal(t, 8, cfg.Security.PasswordMinLength)
		assert.Equal(t, 5, cfg.Security.MaxLoginAttempts)
		assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
		assert.False(t, cfg.Security.RequireEmailVerification)
		assert.False(t, cfg.Google.Enabled())
		assert.Equal(t, []string{"accounts.google.com", "https://accounts.google.com"}, cfg.Google.Issuers)
		assert.Equal(t, "https://www.googleapis.com/oauth2/v3/certs", cfg.Google.CertsURL)
		assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
		assert.Equal(t, 300, cfg.RateLimit.SessionRequestsPerMinute)
	})

	t.Run("reads seconds and durations", func(t *testing.T) {
		t.Setenv("POSTGRES_PASSWORD", "secret")
		t.Setenv("SESSION_LIFETIME", "1800")
		t.Setenv("LOCKOUT_TIME", "10m")
		t.Setenv("ALLOWED_ORIGINS", "https://shop.example.com, https://admin.example.com,")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 30*time.Minute, cfg.Session.Lifetime)
		assert.Equal(t, 10*time.Minute, cfg.Security.LockoutDuration)
		assert.Equal(t, []string{"https://shop.example.com", "https://admin.example.com"}, cfg.CORS.AllowedOrigins)
	})
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Port: "5432", Password: "secret"},
		Redis:    RedisConfig{Port: "6379"},
		Session: SessionConfig{
			Lifetime:       time.Hour,
			IdleTimeout:    24 * time.Hour,
			CookieName:     "session_id",
			RememberExpiry: 30 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			PasswordMinLength: 8,
			MaxLoginAttempts:  5,
			LockoutDuration:   15 * time.Minute,
		},
		Google: GoogleConfig{
			CertsURL: "https://www.googleapis.com/oauth2/v3/certs",
			Issuers:  []string{"accounts.google.com"},
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 60, SessionRequestsPerMinute: 300, WindowDuration: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("rejects a short password policy", func(t *testing.T) {
		cfg := validConfig()
		cfg.Security.PasswordMinLength = 4
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects idle timeout shorter than lifetime", func(t *testing.T) {
		cfg := validConfig()
		cfg.Session.IdleTimeout = time.Minute
		assert.Error(t, cfg.Validate())
	})

	t.Run("allows disabling the lockout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Security.MaxLoginAttempts = 0
		cfg.Security.LockoutDuration = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects an empty session rate budget", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.SessionRequestsPerMinute = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-numeric ports", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = "pg"
		assert.Error(t, cfg.Validate())
	})
}

func TestDatabaseURL(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		Database: "storefront",
		User:     "shop",
		Password: "p@ss",
		SSLMode:  "disable",
	}

	assert.Equal(t, "postgres://shop:p%40ss@db:5432/storefront?sslmode=disable", cfg.URL())
	assert.Equal(t, "host=db port=5432 user=shop password=p@ss dbname=storefront sslmode=disable", cfg.DSN())
}
