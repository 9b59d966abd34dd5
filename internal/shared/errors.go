package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Typed errors below match them through errors.Is.
var (
	// ErrValidation marks unknown tokens and malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition marks a status edge outside the adjacency table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPermission marks a viewer lacking rights for the requested scope.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound marks a missing order, actor or product.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks storage or network failures that may be retried.
	ErrTransient = errors.New("transient failure")
	// ErrMutationInFlight rejects a second optimistic mutation on the same order.
	ErrMutationInFlight = errors.New("mutation already in flight")
)

// ValidationError reports an input value outside its accepted set.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: unknown %s %q", e.Field, e.Value)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InvalidTransitionError reports a rejected status edge.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// PermissionError reports a role that may not perform an action.
type PermissionError struct {
	Role   string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: role %q may not %s", e.Role, e.Action)
}

// Is matches ErrPermission.
func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientError wraps a storage or network failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying failure.
func (e *TransientError) Unwrap() error { return e.Err }

// Is matches ErrTransient.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a TransientError unless it already carries a domain kind.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPermission) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrTransient) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}
