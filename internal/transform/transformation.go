package transform

import (
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// Type tags the variant of a transformation.
type Type string

const (
	TypeField       Type = "field"
	TypeRecord      Type = "record"
	TypeConditional Type = "conditional"
	TypeAggregate   Type = "aggregate"
)

// Metadata describes a transformation for introspection and monitoring.
type Metadata struct {
	ID               string
	Name             string
	Description      string
	Type             Type
	SupportsParallel bool
	Properties       map[string]any
}

// Transformation is a value-level function over a record or field. Pure
// except for context side effects; implementations never mutate their input
// record, they clone, modify the clone, and return it.
type Transformation interface {
	ID() string
	Name() string
	Description() string
	Type() Type
	SupportsParallel() bool
	Validate(ctx *pipeline.ExecutionContext) error
	Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *Result
	TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result
	Metadata() Metadata
}

// base carries shared transformation identity. Concrete transforms embed it.
type base struct {
	id          string
	name        string
	description string
	typ         Type
	parallel    bool
}

func (b base) ID() string             { return b.id }
func (b base) Name() string           { return b.name }
func (b base) Description() string    { return b.description }
func (b base) Type() Type             { return b.typ }
func (b base) SupportsParallel() bool { return b.parallel }

func (b base) metadata(props map[string]any) Metadata {
	return Metadata{
		ID:               b.id,
		Name:             b.name,
		Description:      b.description,
		Type:             b.typ,
		SupportsParallel: b.parallel,
		Properties:       props,
	}
}

// batchApply implements TransformBatch in terms of Transform, observing
// cancellation before each record.
func batchApply(t Transformation, recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	results := make([]*Result, 0, len(recs))
	for _, rec := range recs {
		if ctx.Err() != nil {
			results = append(results, Cancelled(rec, t.ID(), ctx.Err()))
			continue
		}
		results = append(results, t.Transform(rec, ctx))
	}
	return results
}
