package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseErrorFormatting(t *testing.T) {
	inner := fmt.Errorf("unexpected token")
	err := NewParseError("pipeline.yaml", 12, inner)

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if got := parseErr.Error(); got != "parse error: pipeline.yaml:12: unexpected token" {
		t.Fatalf("unexpected message: %s", got)
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected unwrap to expose inner error")
	}
}

func TestValidationErrorFormatting(t *testing.T) {
	err := NewValidationError("stages", "duplicate order", nil)
	if got := err.Error(); got != "validation error: stages: duplicate order" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := NewExecutionError("exec-1", inner)
	if !errors.Is(err, inner) {
		t.Fatal("expected unwrap to expose inner error")
	}
	if got := err.Error(); got != "execution error on run exec-1: boom" {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestConnectorErrorKinds(t *testing.T) {
	err := NewConnectorError("csv-source", IOFailed, fmt.Errorf("read failed"))
	var connErr *ConnectorError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectorError, got %T", err)
	}
	if connErr.Kind != IOFailed {
		t.Fatalf("unexpected kind: %s", connErr.Kind)
	}
}

func TestScheduleError(t *testing.T) {
	err := NewScheduleError("*/5 * * *", "expected 5 fields", nil)
	if got := err.Error(); got != "schedule error [*/5 * * *]: expected 5 fields" {
		t.Fatalf("unexpected message: %s", got)
	}
}
