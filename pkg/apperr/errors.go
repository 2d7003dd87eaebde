// Package apperr defines the error taxonomy shared by the store, service and
// HTTP layers. Every error that can reach the dispatcher is either an *Error
// (carrying a client-safe message and an HTTP status) or an unexpected error
// that is rendered as a generic 500.
//
// The store layer reports persistence failures as *StoreError and duplicate
// emails as ErrEmailTaken, so callers never see driver types.
//
// Example:
//
//	if errors.Is(err, apperr.ErrEmailTaken) {
//	    return apperr.Conflict("Email already registered")
//	}
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status-code mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindConflict
	KindMethodNotAllowed
	KindTooManyRequests
)

// String returns the lower-case name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// StatusCode returns the HTTP status code for the kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an application error with a message that is safe to show to clients.
// Err holds the underlying cause for server-side logging only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed or missing input (400).
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// Unauthorized reports rejected credentials (401).
func Unauthorized(message string) error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Forbidden reports a valid identity that may not proceed, e.g. an unverified account (403).
func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

// Conflict reports a uniqueness violation such as a duplicate email (409).
func Conflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

// MethodNotAllowed reports an action invoked with the wrong HTTP method (405).
func MethodNotAllowed() error {
	return &Error{Kind: KindMethodNotAllowed, Message: "Method not allowed"}
}

// TooManyRequests reports a throttled caller (429).
func TooManyRequests(message string) error {
	return &Error{Kind: KindTooManyRequests, Message: message}
}

// Internal wraps an infrastructure failure behind a generic client message (500).
func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// StatusCode maps any error to an HTTP status. Errors outside the taxonomy are 500.
func StatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Kind.StatusCode()
	}
	return http.StatusInternalServerError
}

// ErrEmailTaken is returned by the credential store when an insert hits the
// unique constraint on users.email.
var ErrEmailTaken = errors.New("email already exists")

// ErrGoogleIDTaken is returned when a Google subject is already bound to
// another account.
var ErrGoogleIDTaken = errors.New("google account already linked")

// ErrNotFound is returned by lookups that address a single record by key.
var ErrNotFound = errors.New("record not found")

// StoreError is the single failure kind surfaced by the persistence layer.
// The driver error is deliberately not part of the unwrap chain; it is logged
// where it happens.
type StoreError struct {
	Op string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s failed", e.Op)
}

// IsStoreError reports whether err is (or wraps) a *StoreError.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
