package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	t.Run("maps every kind", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, StatusCode(Validation("bad")))
		assert.Equal(t, http.StatusUnauthorized, StatusCode(Unauthorized("no")))
		assert.Equal(t, http.StatusForbidden, StatusCode(Forbidden("verify")))
		assert.Equal(t, http.StatusConflict, StatusCode(Conflict("dup")))
		assert.Equal(t, http.StatusMethodNotAllowed, StatusCode(MethodNotAllowed()))
		assert.Equal(t, http.StatusTooManyRequests, StatusCode(TooManyRequests("slow down")))
		assert.Equal(t, http.StatusInternalServerError, StatusCode(Internal("oops", errors.New("boom"))))
	})

	t.Run("unknown errors are internal", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("driver exploded")))
	})

	t.Run("wrapped app errors keep their status", func(t *testing.T) {
		err := fmt.Errorf("login: %w", Unauthorized("Invalid email or password"))
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

		appErr, ok := As(err)
		require.True(t, ok)
		assert.Equal(t, "Invalid email or password", appErr.Message)
	})
}

func TestStoreError(t *testing.T) {
	t.Run("does not expose the driver error", func(t *testing.T) {
		err := fmt.Errorf("find user: %w", &StoreError{Op: "find_user_by_email"})

		assert.True(t, IsStoreError(err))
		assert.Equal(t, "find user: store: find_user_by_email failed", err.Error())
	})

	t.Run("internal error keeps its cause for logs", func(t *testing.T) {
		cause := &StoreError{Op: "insert_user"}
		err := Internal("An error occurred during registration", cause)

		assert.True(t, IsStoreError(err))
		assert.Contains(t, err.Error(), "insert_user")
	})
}
