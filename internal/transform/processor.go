package transform

import (
	"fmt"
	"time"

	"github.com/refinery-etl/refinery/internal/logger"
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// Observer receives per-transformation timing samples. The performance
// monitor plugs in here.
type Observer interface {
	Observe(transformationID string, duration time.Duration, success bool)
}

// Processor executes a sequence of transformations per record. Failures are
// converted to result values; nothing is raised across the processor
// boundary except through the cancellation signal.
type Processor struct {
	Logger   *logger.Logger
	Observer Observer
}

// NewProcessor builds a processor with the given logger.
func NewProcessor(log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Discard()
	}
	return &Processor{Logger: log}
}

// ProcessRecord applies each transformation in order; the output record of
// one becomes the input to the next. Skips retain the current record and
// continue; drops and buffered holds end the chain for the record; failures
// end the chain and are recorded on the context.
func (p *Processor) ProcessRecord(rec *record.Record, transforms []Transformation, ctx *pipeline.ExecutionContext) *Result {
	start := time.Now()
	current := rec
	var applied []string
	var extras []*record.Record
	var fields int64
	allSkipped := len(transforms) > 0

	for _, t := range transforms {
		if err := ctx.Err(); err != nil {
			return Cancelled(current, t.ID(), err)
		}

		stepStart := time.Now()
		res := p.applySafely(t, current, ctx)
		stepDuration := time.Since(stepStart)
		if p.Observer != nil {
			p.Observer.Observe(t.ID(), stepDuration, len(res.Errors) == 0)
		}

		if res.Dropped {
			ctx.Stats().AddSkipped(1)
			res.Input = rec
			res.AppliedTransforms = append(applied, res.AppliedTransforms...)
			return res
		}
		if res.Buffered {
			res.Input = rec
			return res
		}
		if len(res.Errors) > 0 {
			for _, e := range res.Errors {
				ctx.AddError(e)
			}
			ctx.Stats().AddFailed(1)
			res.Input = rec
			res.Output = current
			res.AppliedTransforms = applied
			res.Duration = time.Since(start)
			return res
		}
		if res.Skipped {
			continue
		}

		allSkipped = false
		current = res.Output
		applied = append(applied, res.AppliedTransforms...)
		extras = append(extras, res.Additional...)
		fields += res.FieldsAffected
	}

	duration := time.Since(start)
	ctx.Stats().AddProcessed(1)
	ctx.Stats().AddFields(fields)
	ctx.Stats().AddDuration(duration)

	return &Result{
		Success:           true,
		Skipped:           allSkipped,
		Input:             rec,
		Output:            current,
		Additional:        extras,
		AppliedTransforms: applied,
		FieldsAffected:    fields,
		Duration:          duration,
	}
}

// ProcessBatch applies the transformation chain to each record, observing
// cancellation before every record.
func (p *Processor) ProcessBatch(recs []*record.Record, transforms []Transformation, ctx *pipeline.ExecutionContext) []*Result {
	results := make([]*Result, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			results = append(results, Cancelled(rec, "", err))
			continue
		}
		results = append(results, p.ProcessRecord(rec, transforms, ctx))
	}
	return results
}

// applySafely invokes a transformation, converting panics into failure
// results coded TRANSFORM_EXCEPTION.
func (p *Processor) applySafely(t Transformation, rec *record.Record, ctx *pipeline.ExecutionContext) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("transformation %s panicked: %v", t.ID(), r)
			p.Logger.Error(err, "transformation panic recovered")
			res = Failed(rec, pipeline.NewExecutionError(CodeTransformException, t.Name(), err.Error(), err))
		}
	}()
	return t.Transform(rec, ctx)
}
