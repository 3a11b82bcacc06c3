package cron

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid schedule")
	ErrNotFound   = errors.New("not found")

	// ErrControllerUnavailable is returned by controllers that cannot reach
	// the machine at all.
	ErrControllerUnavailable = errors.New("machine controller unavailable")
)

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RecurrenceError means no next run could be computed. The schedule stays
// enabled but dormant.
type RecurrenceError struct {
	Type ScheduleType
	Err  error
}

func (e *RecurrenceError) Error() string {
	return fmt.Sprintf("failed to compute next %s run: %s", e.Type, e.Err)
}

func (e *RecurrenceError) Unwrap() error { return e.Err }
