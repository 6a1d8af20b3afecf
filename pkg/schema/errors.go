package schema

import "fmt"

// Engine error codes.
const (
	ErrCodeDefinition    = "DEFINITION"
	ErrCodeValidation    = "VALIDATION"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStore         = "STORE"
	ErrCodeExecution     = "EXECUTION"
	ErrCodeExpression    = "EXPRESSION"
	ErrCodeDispatch      = "DISPATCH"
	ErrCodeCycleExceeded = "CYCLE_EXCEEDED"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeInternal      = "INTERNAL"
)

// EngineError is the structured error type used across the engine. Code is a
// stable machine-readable identifier; StepID is attached when the error is
// tied to a specific automation step.
type EngineError struct {
	Code    string
	Message string
	StepID  string
	Details map[string]any
	Cause   error
}

func (e *EngineError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether a retry could plausibly succeed. Definition,
// validation and conflict errors are deterministic and never retryable.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeDefinition, ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeExpression, ErrCodeCycleExceeded:
		return false
	default:
		return true
	}
}

// NewError creates an EngineError with the given code and message.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates an EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID. Returns the error for chaining.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying error.
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause
	return e
}

// WithDetails attaches structured detail fields, merging into any existing.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}
