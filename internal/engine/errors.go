package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/incr/internal/ir"
)

// ErrWrongPhase is returned by Session operations that are not allowed in
// the session's current phase, such as a second UpdateAffectedBy.
var ErrWrongPhase = errors.New("operation not allowed in this session phase")

// ErrUnknownTaskDef is returned when the store holds a task whose definition
// was never registered with the engine's TaskDefs.
var ErrUnknownTaskDef = errors.New("unknown task definition")

// ExecError is a failure of a task body.
//
// ExecError is the only recoverable engine error: the failed task's data
// has been rolled back, and a later session may retry it. When a task fails
// because a task it required failed, the innermost ExecError is returned
// unchanged so Key always names the task whose body produced Cause.
type ExecError struct {
	// Key identifies the failed task.
	Key ir.TaskKey

	// Cause is the error returned by the task body.
	Cause error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Key, e.Cause)
}

// Unwrap returns the cause.
func (e *ExecError) Unwrap() error {
	return e.Cause
}

// CycleError reports that a task required itself, directly or through other
// tasks, while it was executing. Cycles are fatal.
type CycleError struct {
	// Key is the task that was required while executing.
	Key ir.TaskKey

	// Path is the chain of executing tasks from the outermost down to the
	// requirer, followed by Key.
	Path []ir.TaskKey
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, k := range e.Path {
		parts = append(parts, k.String())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("CYCLE_DETECTED: %s requires itself", e.Key)
	}
	return fmt.Sprintf("CYCLE_DETECTED: %s (%s)", e.Key, strings.Join(parts, " -> "))
}

// ValidationKind categorizes validation errors.
type ValidationKind string

const (
	// ValidationOverlappingProvide indicates two tasks provide one resource.
	ValidationOverlappingProvide ValidationKind = "OVERLAPPING_PROVIDE"

	// ValidationHiddenRequire indicates a task read a resource whose
	// provider it does not transitively require.
	ValidationHiddenRequire ValidationKind = "HIDDEN_REQUIRE"

	// ValidationHiddenProvide indicates a task wrote a resource that a
	// task which does not transitively require it reads.
	ValidationHiddenProvide ValidationKind = "HIDDEN_PROVIDE"

	// ValidationOther covers errors returned by custom validators.
	ValidationOther ValidationKind = "INVALID"
)

// ValidationError is a soundness violation reported by a Validator. The
// executed task's data is rolled back before the error is returned, and
// the error is never retried.
type ValidationError struct {
	// Kind identifies the violation.
	Kind ValidationKind

	// Key is the task being validated.
	Key ir.TaskKey

	// Message is a human-readable description.
	Message string

	// Cause is set when a custom validator returned a plain error.
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s (task=%s)", e.Kind, msg, e.Key)
}

// Unwrap returns the cause, if any.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// IsExecError returns true if the error is a task failure.
// Uses errors.As to handle wrapped errors.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}

// IsCycleError returns true if the error is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsValidationError returns true if the error is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCancelled returns true if the error is the result of a cancelled or
// expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isFatal reports errors that must cross task boundaries unchanged.
func isFatal(err error) bool {
	return IsCycleError(err) || IsValidationError(err) || IsExecutionsExceededError(err)
}

func asValidationError(key ir.TaskKey, err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Kind: ValidationOther, Key: key, Cause: err}
}
