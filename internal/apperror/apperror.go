package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream failure")
	ErrMalformed    = errors.New("malformed message")
)

type AppError struct {
	Err       error  // sentinel kind
	Message   string // Human-readable error message
	Field     string // Optional: field causing the error
	Retryable bool   // Upstream failures only: the same call may succeed later
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a request that contradicts existing state,
// e.g. sharing a snippet twice.
func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

// Unauthorized returns an AppError indicating the caller lacks permission
// on the resource. It is not used for missing credentials; the auth
// middleware answers those itself.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Upstream wraps a failure of an external collaborator (content store,
// queue, identity provider).
func Upstream(message string, retryable bool) *AppError {
	return &AppError{
		Err:       ErrUpstream,
		Message:   message,
		Retryable: retryable,
	}
}

func Malformed(message string) *AppError {
	return &AppError{
		Err:     ErrMalformed,
		Message: message,
	}
}

// IsRetryable reports whether err carries an AppError marked retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}
