// Package apperror defines the error taxonomy shared by the store, the
// service layer and the HTTP boundary.
//
// Every failure the account service can report is one of a handful of
// kinds (validation, conflict, not found, unauthorized, transient). Each kind
// is a sentinel error; an *AppError carries the sentinel plus the
// human-readable message that is safe to show to the caller.
//
// The handler package maps sentinels to status codes with errors.Is, so
// wrapping with fmt.Errorf("...: %w", err) anywhere along the way is fine.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized is the parent of every authentication failure.
	// errors.Is(err, ErrUnauthorized) holds for all three below.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	ErrNotConfirmed       = fmt.Errorf("email not confirmed: %w", ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("invalid or expired token: %w", ErrUnauthorized)

	// ErrTransient marks storage or transport failures. Callers may retry.
	ErrTransient = errors.New("transient failure")
)

type AppError struct {
	Err     error  // actual error
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

// NotFoundMessage is NotFound with a caller-chosen message, for lookups
// that are not keyed by id (e.g. by email).
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// ConflictMessage reports a state clash such as a taken email or an
// already confirmed account.
func ConflictMessage(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
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

// InvalidCredentials is deliberately vague: unknown email and wrong
// password produce the exact same error.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid credentials",
	}
}

func NotConfirmed() *AppError {
	return &AppError{
		Err:     ErrNotConfirmed,
		Message: "please confirm your email address first",
	}
}

// InvalidToken never says whether the token expired or was tampered with.
func InvalidToken() *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: "invalid or expired token",
	}
}

// Transient wraps an infrastructure failure. The cause stays reachable via
// errors.Is/As for logging, but Message is generic so it can be rendered.
func Transient(message string, cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrTransient, cause),
		Message: message,
	}
}
