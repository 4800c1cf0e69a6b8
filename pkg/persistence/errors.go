// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution run was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrContinuationNotFound indicates a scheduled continuation was not found.
	ErrContinuationNotFound = errors.New("continuation not found")

	// ErrTargetNotFound indicates a target entity was not found.
	ErrTargetNotFound = errors.New("target not found")

	// ErrRunConflict indicates a non-terminal run already exists for the
	// (workflow, target) pair. Callers treat this as "someone else is
	// already executing it" and skip.
	ErrRunConflict = errors.New("a non-terminal run already exists for this workflow and target")

	// ErrDuplicateExecution indicates a tracker insert lost a race against a
	// concurrent insert for the same (workflow, target, trigger key). Benign:
	// the other writer already recorded the execution.
	ErrDuplicateExecution = errors.New("execution already recorded for this trigger key")

	// ErrStatusConflict indicates an optimistic status update found the
	// target at a different status than expected.
	ErrStatusConflict = errors.New("target status changed concurrently")
)

// ExecutionError wraps execution-run persistence errors with context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates an execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsRunConflict checks if an error indicates a run-uniqueness conflict.
func IsRunConflict(err error) bool {
	return errors.Is(err, ErrRunConflict)
}

// IsDuplicateExecution checks if an error indicates a tracker dedup race.
func IsDuplicateExecution(err error) bool {
	return errors.Is(err, ErrDuplicateExecution)
}
