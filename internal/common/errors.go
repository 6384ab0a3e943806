// Package common defines shared constants, helpers and sentinel errors used
// across the server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Error kinds surfaced to API clients.
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrAuthorization  = errors.New("authorization error")
	ErrConflict       = errors.New("conflict")

	// Token parsing errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Error is a classified error with a message that is safe to show to clients.
// Kind is one of the sentinel kinds above and is what errors.Is matches on.
type Error struct {
	Kind    error
	Message string
}

// NewError returns a classified error of the given kind.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Shorthands for the classified kinds.

func ValidationError(msg string) error     { return NewError(ErrValidation, msg) }
func AuthenticationError(msg string) error { return NewError(ErrAuthentication, msg) }
func AuthorizationError(msg string) error  { return NewError(ErrAuthorization, msg) }
func ConflictError(msg string) error       { return NewError(ErrConflict, msg) }

// PublicMessage returns the client-facing message of a classified error, or
// fallback when err carries none.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
