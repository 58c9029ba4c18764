package api

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input to an engine call. It is returned before
// any history event is recorded.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Msg
}

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports that an instance ID is already in use, or that an
// operation is not permitted in the instance's current status.
type ConflictError struct {
	InstanceID string
	Msg        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("instance %s: %s", e.InstanceID, e.Msg)
}

// NotFoundError reports an unknown instance, orchestrator, activity, entity
// or entity operation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ActivityError is the recorded fault of a failed activity invocation. It is
// returned from activity awaits during replay; it never crashes the engine,
// and orchestrator code may handle it (for example with a retry loop).
type ActivityError struct {
	Activity string
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %q failed: %s", e.Activity, e.Message)
}

// EntityError is the recorded fault of a failed entity call.
type EntityError struct {
	Entity    string
	Operation string
	Message   string
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("entity %s operation %q failed: %s", e.Entity, e.Operation, e.Message)
}

// ErrTimerCanceled is returned when awaiting a timer that was canceled
// before it fired.
var ErrTimerCanceled = errors.New("timer canceled")

// ReplayMismatchError is a fatal integrity violation: re-executing the
// orchestrator did not reproduce the recorded history, which means the
// orchestrator code is non-deterministic (or was changed incompatibly while
// instances were in flight). The engine halts processing of the affected
// instance instead of silently patching its state.
type ReplayMismatchError struct {
	InstanceID string
	TaskID     int
	Expected   string
	Got        string
}

func (e *ReplayMismatchError) Error() string {
	return fmt.Sprintf("replay mismatch on instance %s task %d: history recorded %s, code produced %s",
		e.InstanceID, e.TaskID, e.Expected, e.Got)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
