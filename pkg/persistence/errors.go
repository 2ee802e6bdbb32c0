// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error sentinels all implementations return.
var (
	ErrWorkflowNotFound     = errors.New("workflow not found")
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrWebhookNotFound      = errors.New("webhook not found")
	ErrSubscriptionNotFound = errors.New("event subscription not found")
	ErrVariableNotFound     = errors.New("variable not found")

	// ErrTerminalExecution indicates an attempt to mutate an execution that
	// already reached a terminal state.
	ErrTerminalExecution = errors.New("execution is in a terminal state")

	// ErrInvalidTransition indicates a status change that violates the
	// execution state machine.
	ErrInvalidTransition = errors.New("invalid execution status transition")
)

// StoreError wraps storage errors with the operation and entity involved.
type StoreError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrScheduleNotFound) ||
		errors.Is(err, ErrWebhookNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrVariableNotFound)
}
