// Package apperror defines the error taxonomy shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below;
// the HTTP layer maps sentinels to status codes with errors.Is and shows
// AppError.Message to the client. Anything that is not an AppError is
// treated as internal and never echoed.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("Validation Error")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrNotFoundOrExpired   = errors.New("not found or expired")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller-supplied message, for lookups
// that are not keyed by an id (login by email or username).
func NotFoundMessage(field, message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
		Field:   field,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation on field (email, username ...).
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "Invalid credentials",
	}
}

// InvalidRefreshToken covers every refresh failure: bad signature, unknown
// token, revoked or expired session, lost rotation race. Callers cannot tell
// these apart; all of them require a fresh login.
func InvalidRefreshToken() *AppError {
	return &AppError{
		Err:     ErrInvalidRefreshToken,
		Message: "Invalid or expired refresh token",
	}
}

func NotFoundOrExpired(message string) *AppError {
	return &AppError{
		Err:     ErrNotFoundOrExpired,
		Message: message,
	}
}

func PayloadTooLarge(limit int64) *AppError {
	return &AppError{
		Err:     ErrPayloadTooLarge,
		Message: fmt.Sprintf("payload exceeds the %d byte limit", limit),
	}
}

// UpstreamTimeout wraps a timed-out call to an external system. The cause is
// kept for logging; only the message reaches the client.
func UpstreamTimeout(upstream string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrUpstreamTimeout, cause),
		Message: fmt.Sprintf("%s did not respond in time, try again", upstream),
	}
}
