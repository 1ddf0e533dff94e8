package transform

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/refinery-etl/refinery/internal/logger"
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// Strategy selects how a transformation stage walks its record set.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyBatch      Strategy = "batch"
)

// Stage groups transformations with an execution strategy inside a
// transformation pipeline.
type Stage struct {
	ID              string
	Name            string
	Transformations []Transformation
	Strategy        Strategy
	ContinueOnError bool
	// Parallelism bounds worker count for the parallel strategy; zero uses
	// the pipeline default. Always clamped to the available cores.
	Parallelism int
	// BatchSize sizes chunks for the batch strategy; zero uses the pipeline
	// default.
	BatchSize int
}

// StageOutcome reports one stage of a transformation pipeline run.
type StageOutcome struct {
	StageID       string
	StageName     string
	Results       []*Result
	Failed        bool
	FailureReason string
}

// PipelineResult reports a full transformation pipeline run.
type PipelineResult struct {
	Success        bool
	ShortCircuited bool
	Stages         []StageOutcome
	Records        []*record.Record
	RecordsDropped int
	RecordsFailed  int
}

// Pipeline composes ordered transformation stages. After each stage only
// records whose latest result flows move on; when that set empties the
// remaining stages are skipped.
type Pipeline struct {
	id        string
	name      string
	stages    []*Stage
	processor *Processor
	logger    *logger.Logger
}

// NewPipeline builds a transformation pipeline around a processor.
func NewPipeline(id, name string, processor *Processor, log *logger.Logger) *Pipeline {
	if processor == nil {
		processor = NewProcessor(log)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{id: id, name: name, processor: processor, logger: log}
}

func (p *Pipeline) ID() string   { return p.id }
func (p *Pipeline) Name() string { return p.name }

// AddStage appends a stage and returns the pipeline for chaining.
func (p *Pipeline) AddStage(stage *Stage) *Pipeline {
	p.stages = append(p.stages, stage)
	return p
}

// Execute runs every stage over the record set. Validation failures and
// cancellation are returned as errors; stage failures are reported through
// the result.
func (p *Pipeline) Execute(recs []*record.Record, ctx *pipeline.ExecutionContext) (*PipelineResult, error) {
	result := &PipelineResult{Success: true}
	current := recs

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		for _, t := range stage.Transformations {
			if err := t.Validate(ctx); err != nil {
				return result, err
			}
		}

		outcome := StageOutcome{StageID: stage.ID, StageName: stage.Name}
		results, err := p.runStage(stage, current, ctx)
		if err != nil {
			return result, err
		}
		outcome.Results = results

		// Stateful windowed transforms hold a partial window; flush it so
		// end-of-input emits the remainder.
		for _, t := range stage.Transformations {
			if agg, ok := t.(*AggregateTransformation); ok {
				if flushed := agg.Flush(); flushed != nil {
					outcome.Results = append(outcome.Results, flushed)
				}
			}
		}

		next := make([]*record.Record, 0, len(current))
		for _, res := range outcome.Results {
			switch {
			case len(res.Errors) > 0:
				result.RecordsFailed++
				outcome.Failed = true
			case res.Dropped:
				result.RecordsDropped++
			case res.Flows():
				if res.Output != nil {
					next = append(next, res.Output)
				}
				next = append(next, res.Additional...)
			}
		}

		result.Stages = append(result.Stages, outcome)

		if outcome.Failed && !stage.ContinueOnError {
			outcome.FailureReason = fmt.Sprintf("stage %s failed and continue-on-error is disabled", stage.Name)
			result.Stages[len(result.Stages)-1] = outcome
			result.Success = false
			result.Records = next
			p.logger.Warnf("transformation pipeline %s terminated at stage %s", p.name, stage.Name)
			return result, nil
		}

		current = next
		if len(current) == 0 && len(result.Stages) < len(p.stages) {
			result.ShortCircuited = true
			ctx.AddWarning(fmt.Sprintf("transformation pipeline %s: no records remain after stage %s; skipping remaining stages", p.name, stage.Name))
			break
		}
	}

	result.Records = current
	return result, nil
}

func (p *Pipeline) runStage(stage *Stage, recs []*record.Record, ctx *pipeline.ExecutionContext) ([]*Result, error) {
	switch stage.Strategy {
	case StrategyParallel:
		if supportsParallel(stage.Transformations) {
			return p.runParallel(stage, recs, ctx)
		}
		p.logger.Debugf("stage %s requested parallel execution but a transformation does not support it; running sequentially", stage.Name)
		return p.runSequential(stage, recs, ctx)
	case StrategyBatch:
		return p.runBatch(stage, recs, ctx)
	default:
		return p.runSequential(stage, recs, ctx)
	}
}

func (p *Pipeline) runSequential(stage *Stage, recs []*record.Record, ctx *pipeline.ExecutionContext) ([]*Result, error) {
	results := make([]*Result, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.processor.ProcessRecord(rec, stage.Transformations, ctx))
	}
	return results, nil
}

func (p *Pipeline) runBatch(stage *Stage, recs []*record.Record, ctx *pipeline.ExecutionContext) ([]*Result, error) {
	size := stage.BatchSize
	if size <= 0 {
		size = ctx.Config.Defaults.BatchSize
	}
	results := make([]*Result, 0, len(recs))
	for start := 0; start < len(recs); start += size {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}
		results = append(results, p.processor.ProcessBatch(recs[start:end], stage.Transformations, ctx)...)
	}
	return results, nil
}

// runParallel partitions records across a bounded worker pool. Order is
// preserved within a partition but not across partitions.
func (p *Pipeline) runParallel(stage *Stage, recs []*record.Record, ctx *pipeline.ExecutionContext) ([]*Result, error) {
	workers := stage.Parallelism
	if workers <= 0 {
		workers = ctx.Config.Defaults.Parallelism
	}
	if cores := runtime.NumCPU(); workers > cores {
		workers = cores
	}
	if workers > len(recs) {
		workers = len(recs)
	}
	if workers <= 1 {
		return p.runSequential(stage, recs, ctx)
	}

	partitions := make([][]*Result, workers)
	chunk := (len(recs) + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(recs) {
			break
		}
		end := start + chunk
		if end > len(recs) {
			end = len(recs)
		}
		w := w
		part := recs[start:end]
		g.Go(func() error {
			out := make([]*Result, 0, len(part))
			for _, rec := range part {
				if err := ctx.Err(); err != nil {
					partitions[w] = out
					return err
				}
				out = append(out, p.processor.ProcessRecord(rec, stage.Transformations, ctx))
			}
			partitions[w] = out
			return nil
		})
	}
	err := g.Wait()

	results := make([]*Result, 0, len(recs))
	for _, part := range partitions {
		results = append(results, part...)
	}
	return results, err
}

func supportsParallel(transforms []Transformation) bool {
	for _, t := range transforms {
		if !t.SupportsParallel() {
			return false
		}
	}
	return true
}
