package transform

import (
	"fmt"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// Guard decides whether the inner transformation applies to a record.
type Guard func(rec *record.Record, ctx *pipeline.ExecutionContext) bool

// ConditionalTransformation wraps another transformation behind a guard.
// Records failing the guard pass through unchanged.
type ConditionalTransformation struct {
	base
	guard Guard
	inner Transformation
}

// NewConditionalTransformation builds a guarded transform.
func NewConditionalTransformation(id, name string, guard Guard, inner Transformation) *ConditionalTransformation {
	parallel := inner != nil && inner.SupportsParallel()
	return &ConditionalTransformation{
		base:  base{id: id, name: name, typ: TypeConditional, parallel: parallel},
		guard: guard,
		inner: inner,
	}
}

// Validate checks guard and inner transform.
func (t *ConditionalTransformation) Validate(ctx *pipeline.ExecutionContext) error {
	if t.guard == nil {
		return fmt.Errorf("conditional transformation %s: guard is required", t.id)
	}
	if t.inner == nil {
		return fmt.Errorf("conditional transformation %s: inner transformation is required", t.id)
	}
	return t.inner.Validate(ctx)
}

// Transform evaluates the guard and delegates to the inner transform when it
// holds; otherwise the record passes through untouched.
func (t *ConditionalTransformation) Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *Result {
	if !t.guard(rec, ctx) {
		res := Succeeded(rec, rec, t.id)
		res.AppliedTransforms = nil
		return res
	}
	res := t.inner.Transform(rec, ctx)
	if res.Success {
		res.AppliedTransforms = append([]string{t.id}, res.AppliedTransforms...)
	}
	return res
}

// TransformBatch applies the transform record by record.
func (t *ConditionalTransformation) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	return batchApply(t, recs, ctx)
}

// Metadata describes the transform.
func (t *ConditionalTransformation) Metadata() Metadata {
	props := map[string]any{}
	if t.inner != nil {
		props["inner"] = t.inner.ID()
	}
	return t.metadata(props)
}
