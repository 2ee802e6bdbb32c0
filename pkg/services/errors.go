// Package services defines the error taxonomy shared by the API facade,
// the definition store, and the execution engine.
package services

import (
	"errors"
	"fmt"
)

// Definition-time errors surface synchronously to the caller and never
// produce an execution.
var (
	// Validation errors (400 Bad Request).
	ErrValidation        = errors.New("validation failed")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEmptyOwnerID      = errors.New("owner ID cannot be empty")
	ErrWorkflowNil       = errors.New("workflow cannot be nil")
	ErrNameRequired      = errors.New("workflow name is required")
	ErrStepsRequired     = errors.New("workflow must have at least one action step")
	ErrInvalidTrigger    = errors.New("invalid trigger type")
	ErrInvalidActionType = errors.New("invalid action type")

	// Authentication errors (401 Unauthorized).
	ErrAuthentication   = errors.New("authentication failed")
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// Not found (404).
	ErrNotFound = errors.New("not found")

	// Conflicts (409), e.g. two active schedules for one workflow.
	ErrConflict        = errors.New("invariant violation")
	ErrWorkflowInUse   = errors.New("workflow has side records for another trigger type")
	ErrInactiveTrigger = errors.New("workflow is not active")

	// Backpressure (429). The caller may retry.
	ErrResourceExhausted = errors.New("execution queue is full")
)

// Runtime errors are captured inside the execution's terminal state and
// step results, never thrown to an unrelated caller.
var (
	ErrActionExecution = errors.New("action handler failed")
	ErrTimeout         = errors.New("execution timed out")
	ErrCancelled       = errors.New("execution cancelled")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks for a definition-time validation error (400).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidActionType)
}

// IsAuthenticationError checks for a bad webhook signature (401).
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrInvalidSignature)
}

// IsConflictError checks for an invariant violation (409).
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrWorkflowInUse) ||
		errors.Is(err, ErrInactiveTrigger)
}

// IsResourceExhausted checks for queue backpressure (429).
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates an invariant-violation error with context.
func NewConflictError(op, code, message string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     ErrConflict,
	}
}
