package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("permission denied")
	ErrConflict     = errors.New("already exists")
	ErrCapacityFull = errors.New("no positions available")
	// ErrStale signals the entity changed between read and write; callers
	// re-read and re-evaluate so the error surfaced is precise.
	ErrStale = errors.New("stale entity state")
)

// InvalidTransitionError reports a (status, action) pair outside the kind's
// transition table. Message always carries the current status so the HTTP
// layer can render it verbatim.
type InvalidTransitionError struct {
	Kind    Kind
	Action  Action
	Current Status
	Message string
}

func (e *InvalidTransitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s cannot %s (current: %s)", e.Kind, e.Action, e.Current.Label(e.Kind))
}

// ValidationError reports a malformed or out-of-range payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError carries the caller-facing reason for an authorization
// failure and matches ErrForbidden under errors.Is.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }
func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

func forbidden(msg string) error {
	if msg == "" {
		msg = "Permission denied"
	}
	return &ForbiddenError{Message: msg}
}
