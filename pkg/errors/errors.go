package errors

import (
	"fmt"
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures pipeline or transformation validation issues.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while executing a pipeline run.
type ExecutionError struct {
	ExecutionID string
	Err         error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(executionID string, err error) error {
	return &ExecutionError{ExecutionID: executionID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.ExecutionID != "" {
		return fmt.Sprintf("execution error on run %s: %v", e.ExecutionID, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConnectorErrorKind classifies connector failures.
type ConnectorErrorKind string

const (
	ConnectFailed ConnectorErrorKind = "connect_failed"
	AuthFailed    ConnectorErrorKind = "auth_failed"
	IOFailed      ConnectorErrorKind = "io_failed"
	FormatInvalid ConnectorErrorKind = "format_invalid"
)

// ConnectorError indicates issues within source or destination connectors.
type ConnectorError struct {
	Connector string
	Kind      ConnectorErrorKind
	Message   string
	Err       error
}

// NewConnectorError constructs a ConnectorError for the given connector name.
func NewConnectorError(connector string, kind ConnectorErrorKind, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ConnectorError{Connector: connector, Kind: kind, Message: message, Err: err}
}

func (e *ConnectorError) Error() string {
	if e == nil {
		return ""
	}
	if e.Connector != "" {
		return fmt.Sprintf("connector error [%s] %s: %s", e.Connector, e.Kind, e.Message)
	}
	return fmt.Sprintf("connector error %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ConnectorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ScheduleError indicates an invalid schedule specification.
type ScheduleError struct {
	Expression string
	Message    string
	Err        error
}

// NewScheduleError constructs a ScheduleError for a cron expression.
func NewScheduleError(expression, message string, err error) error {
	return &ScheduleError{Expression: expression, Message: message, Err: err}
}

func (e *ScheduleError) Error() string {
	if e == nil {
		return ""
	}
	if e.Expression != "" {
		return fmt.Sprintf("schedule error [%s]: %s", e.Expression, e.Message)
	}
	return fmt.Sprintf("schedule error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ScheduleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
