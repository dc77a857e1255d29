// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// ErrCheckpointNotFound indicates a checkpoint was not found by the given identifier.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointError wraps checkpoint storage errors with operation context.
type CheckpointError struct {
	Op           string // Operation being performed (e.g., "Save", "ByID", "Delete")
	CheckpointID string
	WorkflowID   string
	Err          error
}

func (e *CheckpointError) Error() string {
	target := e.CheckpointID
	if target == "" {
		target = fmt.Sprintf("workflow %s", e.WorkflowID)
	}

	return fmt.Sprintf("%s operation failed for checkpoint %s: %v", e.Op, target, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

func (e *CheckpointError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewCheckpointError creates a checkpoint error with context.
func NewCheckpointError(op, checkpointID string, err error) *CheckpointError {
	return &CheckpointError{
		Op:           op,
		CheckpointID: checkpointID,
		Err:          err,
	}
}

// NewWorkflowCheckpointError creates a checkpoint error for per-workflow operations.
func NewWorkflowCheckpointError(op, workflowID string, err error) *CheckpointError {
	return &CheckpointError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsCheckpointNotFound checks if an error indicates a checkpoint was not found.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}
