package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a workflow error.
type ErrorClass string

const (
	// ErrorClassValidation indicates invalid input detected before any remote
	// call. Validation failures never mutate deployment status.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassRemote indicates a failed call to the cloud API or the
	// playbook runner.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassTimeout indicates a bounded wait was exhausted, such as the
	// provisioning poll ceiling.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassInternal indicates an unexpected engine-side failure.
	ErrorClassInternal ErrorClass = "internal"
)

// WorkflowError represents a classified error with workflow context.
type WorkflowError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Phase identifies the workflow phase in which the error occurred.
	Phase string `json:"phase,omitempty"`

	// Operation identifies the specific operation that failed.
	Operation string `json:"operation,omitempty"`

	// Resource is the resource ID that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Err != nil {
		if e.Resource != "" {
			return fmt.Sprintf("[%s] %s (resource=%s): %s", e.Class, e.Message, e.Resource, e.Err.Error())
		}
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err.Error())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, e.Message, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Operation == t.Operation
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassValidation,
		Message: message,
	}
}

// NewRemoteError creates a new remote-call error.
func NewRemoteError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassRemote,
		Message: message,
		Err:     err,
	}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassTimeout,
		Message: message,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithPhase adds phase context to an error.
func (e *WorkflowError) WithPhase(phase string) *WorkflowError {
	e.Phase = phase
	return e
}

// WithOperation adds operation context to an error.
func (e *WorkflowError) WithOperation(operation string) *WorkflowError {
	e.Operation = operation
	return e
}

// WithResource adds resource context to an error.
func (e *WorkflowError) WithResource(resourceID string) *WorkflowError {
	e.Resource = resourceID
	return e
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsRemote returns true if the error is classified as a remote-call failure.
func IsRemote(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRemote
	}
	return false
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTimeout
	}
	return false
}

// ClassOf returns the classification of an error, defaulting to internal
// for errors that are not WorkflowErrors.
func ClassOf(err error) ErrorClass {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}
