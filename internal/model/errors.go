package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an unknown request.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when a supervisor response is malformed.
	ErrValidation = errors.New("validation error")
)

// CollaboratorError wraps a failure of an external fetch or persist call.
// The wrapped error is preserved so callers can still inspect it.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Collaborator wraps err as a CollaboratorError unless it is nil or already
// one of the core error kinds.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}

// IsCollaborator reports whether err came from an external collaborator.
func IsCollaborator(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
