package operations

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrorType represents the type of operation error
type ErrorType string

const (
	ErrorTypeInvalidState ErrorType = "invalid_state"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeItemFailure  ErrorType = "item_failure"
	ErrorTypeAbort        ErrorType = "abort"
	ErrorTypeValidation   ErrorType = "validation"
)

// OperationError represents an operation-specific error
type OperationError struct {
	Type    ErrorType `json:"type"`
	OpID    string    `json:"operation_id,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e == nil {
		return "unknown operation error"
	}
	if e.OpID != "" {
		return fmt.Sprintf("[%s] operation %s: %s", e.Type, e.OpID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches sentinel errors by type so errors.Is works across instances
func (e *OperationError) Is(target error) bool {
	var oe *OperationError
	if !errors.As(target, &oe) {
		return false
	}
	return e.Type == oe.Type
}

// Sentinel errors for the contract surface
var (
	// ErrNotFound is returned when an operation cannot be found
	ErrNotFound = &OperationError{
		Type:    ErrorTypeNotFound,
		Message: "operation not found",
	}

	// ErrInvalidState is returned when an operation is not in the
	// status required for the requested transition
	ErrInvalidState = &OperationError{
		Type:    ErrorTypeInvalidState,
		Message: "operation is not in the required state",
	}
)

// NewInvalidStateError reports a rejected transition with the observed status
func NewInvalidStateError(opID string, have Status, want Status) *OperationError {
	return &OperationError{
		Type:    ErrorTypeInvalidState,
		OpID:    opID,
		Message: fmt.Sprintf("requires status %q, current status is %q", want, have),
	}
}

// NewNotFoundError creates a not found error for an operation id
func NewNotFoundError(opID string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeNotFound,
		OpID:    opID,
		Message: "operation not found",
	}
}

// NewValidationError reports an invalid create request
func NewValidationError(message string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewAbortError wraps an operation-level fault that terminated the loop
func NewAbortError(opID string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypeAbort,
		OpID:    opID,
		Message: "operation aborted",
		Cause:   cause,
	}
}

// IsNotFound checks whether the error is an operation not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState checks whether the error is a rejected state transition
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// truncateError bounds recorded item error messages. The cut point
// backs up to a rune boundary so the result stays valid UTF-8.
func truncateError(err error, limit int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
