package schema

import (
	"fmt"
	"strings"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeUnbalancedScope   = "UNBALANCED_SCOPE"
	ErrCodePlanNotTranslated = "PLAN_NOT_TRANSLATED"
	ErrCodeExpansion         = "EXPANSION_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeVault             = "VAULT_ERROR"
)

// Error is the structured error type for all pallet operations.
// ContextPath carries the phase-context labels of the action that produced
// the error, when one is known.
type Error struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ContextPath []string       `json:"context_path,omitempty"`
	Cause       error          `json:"-"`
}

func (e *Error) Error() string {
	if len(e.ContextPath) > 0 {
		return fmt.Sprintf("[%s] %s: %s", e.Code, strings.Join(e.ContextPath, ": "), e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithContext attaches a phase-context path to the error.
func (e *Error) WithContext(path []string) *Error {
	e.ContextPath = path
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
