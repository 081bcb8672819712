package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrStorage            = errors.New("storage failure")
)

// ValidationError reports malformed input. The caller can fix the input and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateError is returned when an operation is attempted from a state that does not permit it.
// Kind is either ErrInvalidState or ErrInvalidTransition.
type StateError struct {
	Kind error
	From string
	To   string
	Msg  string
}

func (e StateError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Kind == ErrInvalidTransition {
		return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid state %s for %s", e.From, e.To)
}

func (e StateError) Is(target error) bool { return target == e.Kind }

func invalidTransition(from, to string) error {
	return StateError{Kind: ErrInvalidTransition, From: from, To: to}
}

// InvalidState reports that op is not allowed while in state.
func InvalidState(state, op string) error {
	return StateError{Kind: ErrInvalidState, From: state, To: op,
		Msg: fmt.Sprintf("%s not allowed while %s", op, state)}
}

// PreconditionError reports a violated cross-entity guard.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string { return "precondition failed: " + e.Reason }

func (e PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

// StorageError wraps a failed persistence call. It is transient; retrying the same
// request may succeed.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e StorageError) Unwrap() error { return e.Err }

func (e StorageError) Is(target error) bool { return target == ErrStorage }
