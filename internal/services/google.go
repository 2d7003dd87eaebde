package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ieraasyl/StorefrontAuth/pkg/config"
	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidGoogleToken is returned when an ID token cannot be verified:
	// it is malformed, expired, signed by an unknown key, issued for another
	// audience, or Google's keys could not be fetched to check it.
	ErrInvalidGoogleToken = errors.New("invalid google id token")

	// ErrGoogleNotConfigured is returned when no client ID is configured.
	ErrGoogleNotConfigured = errors.New("google login is not configured")
)

// GoogleIdentity is the verified identity carried by a Google ID token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Picture       string
}

// GoogleClaims are the ID token claims read by the verifier.
type GoogleClaims struct {
	Email         string    `json:"email"`
	EmailVerified looseBool `json:"email_verified"`
	GivenName     string    `json:"given_name"`
	FamilyName    string    `json:"family_name"`
	Picture       string    `json:"picture"`
	jwt.RegisteredClaims
}

// looseBool accepts both true and "true"; older Google tokens used strings.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = looseBool(t)
	case string:
		parsed, err := strconv.ParseBool(t)
		if err != nil {
			return fmt.Errorf("email_verified: %w", err)
		}
		*b = looseBool(parsed)
	default:
		*b = false
	}
	return nil
}

// GoogleVerifier validates Google ID tokens (RS256 JWTs) against the JWKS
// document Google publishes.
//
// Keys are held in memory by the oidc key set and refetched when a token
// names a kid the set has not seen, which covers Google's key rotation.
// Google accepts two spellings of its issuer, so the issuer is matched
// against the configured list rather than by the oidc verifier.
type GoogleVerifier struct {
	clientID string
	issuers  []string
	verifier *oidc.IDTokenVerifier
}

// NewGoogleVerifier creates a verifier from the Google config. Keys are
// fetched lazily on the first verification.
//
// Example:
//
//	verifier := services.NewGoogleVerifier(cfg.Google)
//	identity, err := verifier.Verify(ctx, input.Token)
func NewGoogleVerifier(cfg config.GoogleConfig) *GoogleVerifier {
	client := &http.Client{
		Timeout:   cfg.HTTPLimit,
		Transport: &keyFetchTransport{base: http.DefaultTransport},
	}
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), cfg.CertsURL)

	return &GoogleVerifier{
		clientID: cfg.ClientID,
		issuers:  cfg.Issuers,
		verifier: oidc.NewVerifier("", keySet, &oidc.Config{
			ClientID:             cfg.ClientID,
			SupportedSigningAlgs: []string{oidc.RS256},
			SkipIssuerCheck:      true,
		}),
	}
}

// Enabled reports whether tokens can be verified.
func (v *GoogleVerifier) Enabled() bool {
	return v != nil && v.clientID != ""
}

// Verify checks the token signature, expiry, issuer and audience and returns
// the identity it asserts. Every failure is reported as
// ErrInvalidGoogleToken; an outage of the key endpoint is logged where the
// fetch fails.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*GoogleIdentity, error) {
	if !v.Enabled() {
		return nil, ErrGoogleNotConfigured
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		log.Debug().Err(err).Msg("Google ID token rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}

	if !slices.Contains(v.issuers, token.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidGoogleToken, token.Issuer)
	}
	if token.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidGoogleToken)
	}

	var claims GoogleClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}

	return &GoogleIdentity{
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		Picture:       claims.Picture,
	}, nil
}

// keyFetchTransport retries key fetches that fail with a network error or a
// 5xx, and logs the outcome. Other statuses are handed to the key set as is.
type keyFetchTransport struct {
	base http.RoundTripper
}

func (t *keyFetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := utils.Retry(req.Context(), utils.ExternalAPIRetryConfig(), func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("keys endpoint returned %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		log.Error().Err(err).Str("url", req.URL.String()).Msg("Failed to fetch Google signing keys")
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("Google signing keys endpoint refused")
		return resp, nil
	}
	log.Info().Str("url", req.URL.String()).Msg("Fetched Google signing keys")
	return resp, nil
}
