package connector

import (
	"fmt"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
	"github.com/refinery-etl/refinery/internal/transform"
)

// ExtractStage pulls all records from a source and places them in the
// context's current-data slot for downstream stages.
type ExtractStage struct {
	pipeline.BaseStage
	source Source
}

// NewExtractStage builds an extract stage over a source.
func NewExtractStage(id, name string, order int, source Source) *ExtractStage {
	return &ExtractStage{
		BaseStage: pipeline.NewBaseStage(id, name, pipeline.StageTypeExtract, order),
		source:    source,
	}
}

// Prepare opens the source.
func (s *ExtractStage) Prepare(ctx *pipeline.ExecutionContext) error {
	return s.source.Open(ctx.Context())
}

// Execute drains the source into the context.
func (s *ExtractStage) Execute(ctx *pipeline.ExecutionContext) (int64, error) {
	if estimate, ok, err := s.source.EstimatedRecordCount(ctx.Context()); err == nil && ok {
		ctx.Logger.Debugf("extracting an estimated %d records", estimate)
	}

	it, err := s.source.Read(ctx.Context())
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			ctx.AddWarning(fmt.Sprintf("extract %s: iterator close failed: %v", s.Name(), cerr))
		}
	}()

	var recs []*record.Record
	for {
		rec, ok, err := it.Next(ctx.Context())
		if err != nil {
			return int64(len(recs)), err
		}
		if !ok {
			break
		}
		recs = append(recs, rec)
	}

	ctx.SetCurrentData(recs)
	return int64(len(recs)), nil
}

// Cleanup closes the source.
func (s *ExtractStage) Cleanup(ctx *pipeline.ExecutionContext) error {
	return s.source.Close(ctx.Context())
}

// TransformStage runs a transformation pipeline over the records in the
// context's current-data slot, replacing them with the surviving outputs.
type TransformStage struct {
	pipeline.BaseStage
	transforms *transform.Pipeline
}

// NewTransformStage builds a transform stage over a transformation pipeline.
func NewTransformStage(id, name string, order int, transforms *transform.Pipeline) *TransformStage {
	return &TransformStage{
		BaseStage:  pipeline.NewBaseStage(id, name, pipeline.StageTypeTransform, order),
		transforms: transforms,
	}
}

// Execute transforms the current record set.
func (s *TransformStage) Execute(ctx *pipeline.ExecutionContext) (int64, error) {
	recs, _ := ctx.CurrentData().([]*record.Record)
	result, err := s.transforms.Execute(recs, ctx)
	if err != nil {
		return 0, err
	}
	if !result.Success {
		return int64(len(result.Records)), fmt.Errorf("transformation pipeline %s failed", s.transforms.Name())
	}
	ctx.SetCurrentData(result.Records)
	return int64(len(result.Records)), nil
}

// LoadStage writes the context's current records to a destination in
// batches sized by the pipeline defaults.
type LoadStage struct {
	pipeline.BaseStage
	destination Destination
	// BatchSize overrides the pipeline default when positive.
	BatchSize int
}

// NewLoadStage builds a load stage over a destination.
func NewLoadStage(id, name string, order int, destination Destination) *LoadStage {
	return &LoadStage{
		BaseStage:   pipeline.NewBaseStage(id, name, pipeline.StageTypeLoad, order),
		destination: destination,
	}
}

// Prepare opens the destination.
func (s *LoadStage) Prepare(ctx *pipeline.ExecutionContext) error {
	return s.destination.Open(ctx.Context())
}

// Execute flushes the current records in batches.
func (s *LoadStage) Execute(ctx *pipeline.ExecutionContext) (int64, error) {
	recs, _ := ctx.CurrentData().([]*record.Record)
	if len(recs) == 0 {
		return 0, nil
	}

	size := s.BatchSize
	if size <= 0 {
		size = ctx.Config.Defaults.BatchSize
	}

	var written int64
	for start := 0; start < len(recs); start += size {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := start + size
		if end > len(recs) {
			end = len(recs)
		}
		result, err := s.destination.WriteBatch(ctx.Context(), recs[start:end])
		if err != nil {
			return written, err
		}
		written += int64(result.Successful)
		if result.Failed > 0 {
			ctx.AddError(pipeline.NewExecutionError(string(pipeline.ErrCodeStageExecution), s.Name(),
				fmt.Sprintf("%d records failed to write", result.Failed), nil))
		}
	}
	return written, nil
}

// Cleanup closes the destination.
func (s *LoadStage) Cleanup(ctx *pipeline.ExecutionContext) error {
	return s.destination.Close(ctx.Context())
}
