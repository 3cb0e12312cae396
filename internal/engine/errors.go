package engine

import (
	"errors"

	"agrotasks/internal/engine/auth"
)

var (
	// ErrNotFound means the task, fine or employee does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the task is not in a state the command
	// applies to, or the actor may not issue it. Re-read before retrying.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidationFailed  = errors.New("validation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// ErrorCode maps an engine error to its stable machine-readable code.
func ErrorCode(err error) string {
	var forbidden auth.ForbiddenError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
