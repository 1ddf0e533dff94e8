package transform

import (
	"fmt"
	"sync"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// AggregateOp enumerates the supported window aggregations.
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
	AggMin   AggregateOp = "min"
	AggMax   AggregateOp = "max"
)

// AggregateTransformation accumulates records into a fixed-size window and
// emits one aggregate record per full window. Buffered records produce skip
// results; call Flush at end of input to emit the partial window.
//
// Aggregation is stateful, so the transform never supports parallel
// execution.
type AggregateTransformation struct {
	base
	WindowSize  int
	SourceField string
	TargetField string
	Op          AggregateOp

	mu     sync.Mutex
	values []float64
	count  int
}

// NewAggregateTransformation builds a windowed aggregate over a numeric field.
func NewAggregateTransformation(id, name string, windowSize int, op AggregateOp, sourceField, targetField string) *AggregateTransformation {
	return &AggregateTransformation{
		base:        base{id: id, name: name, typ: TypeAggregate, parallel: false},
		WindowSize:  windowSize,
		SourceField: sourceField,
		TargetField: targetField,
		Op:          op,
	}
}

// Validate checks the aggregate configuration.
func (t *AggregateTransformation) Validate(*pipeline.ExecutionContext) error {
	if t.WindowSize <= 0 {
		return fmt.Errorf("aggregate transformation %s: window size must be positive", t.id)
	}
	if t.Op == "" {
		return fmt.Errorf("aggregate transformation %s: operation is required", t.id)
	}
	if t.Op != AggCount && t.SourceField == "" {
		return fmt.Errorf("aggregate transformation %s: source field is required for %s", t.id, t.Op)
	}
	if t.TargetField == "" {
		return fmt.Errorf("aggregate transformation %s: target field is required", t.id)
	}
	return nil
}

// Transform buffers the record, emitting an aggregate record when the window
// fills.
func (t *AggregateTransformation) Transform(rec *record.Record, _ *pipeline.ExecutionContext) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Op != AggCount {
		v, err := rec.Float(t.SourceField)
		if err != nil {
			return Failed(rec, pipeline.NewExecutionError(CodeTransformFailed, t.name,
				fmt.Sprintf("field %q is not numeric: %v", t.SourceField, err), err))
		}
		t.values = append(t.values, v)
	}
	t.count++

	if t.count < t.WindowSize {
		return Buffer(rec, t.id, "buffering window")
	}
	return t.emitLocked(rec)
}

// Flush emits the partial window, or nil when the window is empty.
func (t *AggregateTransformation) Flush() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return nil
	}
	return t.emitLocked(nil)
}

func (t *AggregateTransformation) emitLocked(input *record.Record) *Result {
	out := record.New().
		Set("window_size", int64(t.count)).
		Set(t.TargetField, t.computeLocked())

	t.values = t.values[:0]
	t.count = 0

	res := Succeeded(input, out, t.id)
	res.FieldsAffected = int64(out.Len())
	return res
}

func (t *AggregateTransformation) computeLocked() any {
	switch t.Op {
	case AggCount:
		return int64(t.count)
	case AggSum:
		return sum(t.values)
	case AggAvg:
		if len(t.values) == 0 {
			return float64(0)
		}
		return sum(t.values) / float64(len(t.values))
	case AggMin:
		return extremum(t.values, func(a, b float64) bool { return a < b })
	case AggMax:
		return extremum(t.values, func(a, b float64) bool { return a > b })
	default:
		return nil
	}
}

// TransformBatch buffers every record, returning the per-record results.
func (t *AggregateTransformation) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	return batchApply(t, recs, ctx)
}

// Metadata describes the transform.
func (t *AggregateTransformation) Metadata() Metadata {
	return t.metadata(map[string]any{
		"window_size":  t.WindowSize,
		"operation":    string(t.Op),
		"source_field": t.SourceField,
		"target_field": t.TargetField,
	})
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func extremum(values []float64, better func(a, b float64) bool) any {
	if len(values) == 0 {
		return nil
	}
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}
