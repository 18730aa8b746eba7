package run

import (
	"errors"
	"fmt"
)

// ValidationError is returned when an agent or workflow definition is
// malformed. It fails a run before any execution starts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ToolExecutionError is returned when a tool invocation fails. Inside an
// agent loop it is fed back to the model; for a workflow node it is terminal.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// TimeoutError is returned when a run or invocation exceeds its time budget.
type TimeoutError struct {
	What    string
	Seconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %ds", e.What, e.Seconds)
}

// PermissionError is returned when a tool invocation is denied. It surfaces
// as an ordinary execution failure, not a distinct recovery path.
type PermissionError struct {
	Tool   string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("tool %s not permitted: %s", e.Tool, e.Reason)
}

// UnexpectedError wraps a failure the engines did not anticipate, including
// recovered panics. It always converts into a failed run.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return "unexpected error: " + e.Err.Error()
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
