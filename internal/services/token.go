package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultTokenBytes is the entropy of verification, remember-me and session tokens.
const DefaultTokenBytes = 32

// GenerateToken returns n bytes from crypto/rand encoded as hex (2n characters).
//
// Example:
//
//	token, err := services.GenerateToken(services.DefaultTokenBytes)
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSessionID returns a new opaque session identifier.
func GenerateSessionID() (string, error) {
	return GenerateToken(DefaultTokenBytes)
}

// HashToken returns the hex SHA-256 digest under which a remember-me token is
// stored. Tokens carry 256 bits of entropy, so an unsalted fast hash is enough
// to make a leaked table useless.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
