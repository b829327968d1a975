package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the referenced host, event type, or booking does
	// not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the requested interval overlaps an existing
	// ACCEPTED booking of the same host.
	ErrConflict = errors.New("booking conflict")

	// ErrInvalidTransition means the requested status change is not a
	// legal edge of the booking state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError covers malformed requests: interval length mismatch,
// intervals in the past, missing attendee fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
