package transform

import (
	"time"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// Error codes carried in transformation results.
const (
	CodeTransformFailed    = "TRANSFORM_FAILED"
	CodeTransformException = "TRANSFORM_EXCEPTION"
	CodeTransformCancelled = "TRANSFORM_CANCELLED"
	CodeValidationFailed   = "VALIDATION_FAILED"
)

// Result is the outcome of applying one transformation (or a chain of them)
// to a record.
//
// Exactly one of these shapes holds:
//   - success: Success true, Output set (Additional may carry extra records
//     emitted by record-level transforms)
//   - skip: Skipped true, Output preserves the input; non-fatal
//   - drop: Dropped true, the record leaves the flow (legal outcome, not an
//     error)
//   - failure: Success false with Errors populated
type Result struct {
	Success    bool
	Skipped    bool
	SkipReason string
	Dropped    bool
	DropReason string
	// Buffered marks a record held by a stateful windowed transform. The
	// record neither flows onward nor counts as skipped output.
	Buffered bool

	Input      *record.Record
	Output     *record.Record
	Additional []*record.Record

	Errors            []pipeline.ExecutionError
	AppliedTransforms []string
	FieldsAffected    int64
	Duration          time.Duration
}

// Succeeded builds a success result with provenance.
func Succeeded(input, output *record.Record, transformationID string) *Result {
	return &Result{
		Success:           true,
		Input:             input,
		Output:            output,
		AppliedTransforms: []string{transformationID},
	}
}

// Skip builds a non-fatal skip result preserving the input record.
func Skip(input *record.Record, transformationID, reason string) *Result {
	return &Result{
		Skipped:    true,
		SkipReason: reason,
		Input:      input,
		Output:     input,
	}
}

// Drop builds a result removing the record from the flow.
func Drop(input *record.Record, transformationID, reason string) *Result {
	return &Result{
		Dropped:           true,
		DropReason:        reason,
		Input:             input,
		AppliedTransforms: []string{transformationID},
	}
}

// Failed builds a failure result carrying the supplied errors.
func Failed(input *record.Record, errs ...pipeline.ExecutionError) *Result {
	return &Result{
		Input:  input,
		Output: input,
		Errors: errs,
	}
}

// Cancelled builds a failure result for a cancellation observed mid-batch.
func Cancelled(input *record.Record, transformationID string, cause error) *Result {
	return Failed(input, pipeline.NewExecutionError(CodeTransformCancelled, transformationID, "transformation cancelled", cause))
}

// Buffer builds a result for a record absorbed into an aggregation window.
func Buffer(input *record.Record, transformationID, reason string) *Result {
	res := Skip(input, transformationID, reason)
	res.Buffered = true
	return res
}

// Flows reports whether the record continues to the next processing step.
func (r *Result) Flows() bool {
	return (r.Success || r.Skipped) && !r.Dropped && !r.Buffered && len(r.Errors) == 0
}
