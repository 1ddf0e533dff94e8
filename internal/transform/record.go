package transform

import (
	"fmt"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// RecordFunc maps a full record to zero or more output records. Returning an
// empty slice with a nil error drops the record from the flow.
type RecordFunc func(rec *record.Record, ctx *pipeline.ExecutionContext) ([]*record.Record, error)

// RecordTransformation applies a function over the whole record.
type RecordTransformation struct {
	base
	fn RecordFunc
}

// NewRecordTransformation builds a record-level transform.
func NewRecordTransformation(id, name string, fn RecordFunc) *RecordTransformation {
	return &RecordTransformation{
		base: base{id: id, name: name, typ: TypeRecord, parallel: true},
		fn:   fn,
	}
}

// Validate checks the transform configuration.
func (t *RecordTransformation) Validate(*pipeline.ExecutionContext) error {
	if t.fn == nil {
		return fmt.Errorf("record transformation %s: function is required", t.id)
	}
	return nil
}

// Transform applies the record function. The function receives the original
// record and must clone before mutating.
func (t *RecordTransformation) Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *Result {
	outs, err := t.fn(rec, ctx)
	if err != nil {
		return Failed(rec, pipeline.NewExecutionError(CodeTransformFailed, t.name, err.Error(), err))
	}
	if len(outs) == 0 {
		return Drop(rec, t.id, "record transformation emitted no output")
	}

	res := Succeeded(rec, outs[0], t.id)
	if len(outs) > 1 {
		res.Additional = outs[1:]
	}
	return res
}

// TransformBatch applies the transform record by record.
func (t *RecordTransformation) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	return batchApply(t, recs, ctx)
}

// Metadata describes the transform.
func (t *RecordTransformation) Metadata() Metadata {
	return t.metadata(nil)
}

// Project keeps only the named fields, in the given order.
func Project(id string, fields ...string) *RecordTransformation {
	return NewRecordTransformation(id, "project fields", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
		out := record.New()
		for _, name := range fields {
			if v, ok := rec.Get(name); ok {
				out.Set(name, v)
			}
		}
		return []*record.Record{out}, nil
	})
}

// DropFields removes the named fields from the record.
func DropFields(id string, fields ...string) *RecordTransformation {
	return NewRecordTransformation(id, "drop fields", func(rec *record.Record, _ *pipeline.ExecutionContext) ([]*record.Record, error) {
		clone := rec.Clone()
		for _, name := range fields {
			clone.Remove(name)
		}
		return []*record.Record{clone}, nil
	})
}
