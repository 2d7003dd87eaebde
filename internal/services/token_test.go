package services

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("returns hex of the requested length", func(t *testing.T) {
		token, err := GenerateToken(DefaultTokenBytes)
		require.NoError(t, err)
		assert.Len(t, token, 64)

		_, err = hex.DecodeString(token)
		assert.NoError(t, err)
	})

	t.Run("does not repeat", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			token, err := GenerateToken(16)
			require.NoError(t, err)
			assert.False(t, seen[token])
			seen[token] = true
		}
	})

	t.Run("rejects non-positive lengths", func(t *testing.T) {
		_, err := GenerateToken(0)
		assert.Error(t, err)
		_, err = GenerateToken(-1)
		assert.Error(t, err)
	})
}

func TestGenerateSessionID(t *testing.T) {
	first, err := GenerateSessionID()
	require.NoError(t, err)
	second, err := GenerateSessionID()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
}

func TestHashToken(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, HashToken("abc"), HashToken("abc"))
	})

	t.Run("matches SHA-256", func(t *testing.T) {
		assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
	})

	t.Run("differs from the token", func(t *testing.T) {
		token, err := GenerateToken(DefaultTokenBytes)
		require.NoError(t, err)
		assert.NotEqual(t, token, HashToken(token))
		assert.Len(t, HashToken(token), 64)
	})
}
