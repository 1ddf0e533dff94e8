package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies well-known error categories used across the engine.
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "PIPELINE_VALIDATION"
	ErrCodeDuplicateOrder ErrorCode = "DUPLICATE_STAGE_ORDER"
	ErrCodeStageExecution ErrorCode = "STAGE_EXECUTION_ERROR"
	ErrCodeTransform      ErrorCode = "TRANSFORM_EXCEPTION"
	ErrCodeStopOnError    ErrorCode = "STOP_ON_ERROR"
	ErrCodeErrorBudget    ErrorCode = "ERROR_BUDGET_EXCEEDED"
	ErrCodeCancelled      ErrorCode = "CANCELLED"
	ErrCodeState          ErrorCode = "INVALID_STATE"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeMissing        ErrorCode = "MISSING_REQUIRED"
)

// DomainError represents a typed error enriched with contextual data while
// remaining free from infrastructure dependencies.
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons against other DomainError values.
func (e *DomainError) Is(target error) bool {
	var domainErr *DomainError
	if !errors.As(target, &domainErr) {
		return false
	}
	return e.Code == domainErr.Code && e.Message == domainErr.Message
}

// WithContext clones the error with additional contextual metadata.
func (e *DomainError) WithContext(ctx map[string]interface{}) *DomainError {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Context: merged,
	}
}

// newDomainError constructs a DomainError with the supplied code and message.
func newDomainError(code ErrorCode, message string, cause error, context map[string]interface{}) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

func newValidationError(message string, context map[string]interface{}) *DomainError {
	return newDomainError(ErrCodeValidation, message, nil, context)
}

func newDuplicateOrderError(order int, stageID string) *DomainError {
	return newDomainError(ErrCodeDuplicateOrder, "duplicate stage order", nil, map[string]interface{}{
		"order":    order,
		"stage_id": stageID,
	})
}

func newStateError(message string, context map[string]interface{}) *DomainError {
	return newDomainError(ErrCodeState, message, nil, context)
}

func newMissingFieldError(field string) *DomainError {
	return newDomainError(ErrCodeMissing, "missing required field", nil, map[string]interface{}{
		"field": field,
	})
}

func newCancelledError(cause error) *DomainError {
	return newDomainError(ErrCodeCancelled, "execution cancelled", cause, nil)
}

// Severity grades an execution error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ExecutionError is the value-typed error carried in execution results. It
// never crosses component boundaries as a raised error.
type ExecutionError struct {
	Message   string
	Code      string
	Source    string
	Err       error
	Severity  Severity
	Timestamp time.Time
}

// NewExecutionError builds an error-severity ExecutionError.
func NewExecutionError(code, source, message string, cause error) ExecutionError {
	return ExecutionError{
		Message:   message,
		Code:      code,
		Source:    source,
		Err:       cause,
		Severity:  SeverityError,
		Timestamp: time.Now().UTC(),
	}
}

func (e ExecutionError) String() string {
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Source, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// identity is the de-duplication key used when copying context errors into
// execution results.
func (e ExecutionError) identity() string {
	return e.Code + "\x00" + e.Source + "\x00" + e.Message
}
