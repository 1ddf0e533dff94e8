package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/refinery-etl/refinery/internal/logger"
)

// ErrorHandling controls how a run reacts to accumulated failures.
type ErrorHandling struct {
	StopOnError bool
	MaxErrors   int
}

// Defaults carries per-pipeline tuning applied when a stage does not specify
// its own values.
type Defaults struct {
	BatchSize   int
	Parallelism int
}

// Config is the per-pipeline configuration consumed by the runtime.
type Config struct {
	ErrorHandling ErrorHandling
	Defaults      Defaults
}

// ApplyDefaults fills unset tuning values.
func (c Config) ApplyDefaults() Config {
	out := c
	if out.Defaults.BatchSize <= 0 {
		out.Defaults.BatchSize = 100
	}
	if out.Defaults.Parallelism <= 0 {
		out.Defaults.Parallelism = 4
	}
	return out
}

// Statistics accumulates run-level counters. All mutations are atomic so
// parallel stage workers can share one instance without locking.
type Statistics struct {
	recordsProcessed atomic.Int64
	recordsFailed    atomic.Int64
	recordsSkipped   atomic.Int64
	fieldsProcessed  atomic.Int64
	processingNanos  atomic.Int64
}

// AddProcessed increments the processed-record counter.
func (s *Statistics) AddProcessed(n int64) { s.recordsProcessed.Add(n) }

// AddFailed increments the failed-record counter.
func (s *Statistics) AddFailed(n int64) { s.recordsFailed.Add(n) }

// AddSkipped increments the skipped-record counter.
func (s *Statistics) AddSkipped(n int64) { s.recordsSkipped.Add(n) }

// AddFields increments the processed-field counter.
func (s *Statistics) AddFields(n int64) { s.fieldsProcessed.Add(n) }

// AddDuration accumulates processing time.
func (s *Statistics) AddDuration(d time.Duration) { s.processingNanos.Add(int64(d)) }

// StatisticsSnapshot is an immutable view of the counters.
type StatisticsSnapshot struct {
	RecordsProcessed int64
	RecordsFailed    int64
	RecordsSkipped   int64
	FieldsProcessed  int64
	ProcessingTime   time.Duration
}

// Snapshot captures the current counter values.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		RecordsProcessed: s.recordsProcessed.Load(),
		RecordsFailed:    s.recordsFailed.Load(),
		RecordsSkipped:   s.recordsSkipped.Load(),
		FieldsProcessed:  s.fieldsProcessed.Load(),
		ProcessingTime:   time.Duration(s.processingNanos.Load()),
	}
}

// runState is shared by reference between an execution context and every
// stage context derived from it.
type runState struct {
	mu       sync.Mutex
	errors   []ExecutionError
	warnings []string
	current  any
	stats    *Statistics
}

// ExecutionContext is the per-run container flowing through the pipeline.
// Stage contexts derived via StageContext share errors, warnings, statistics,
// the cancellation signal, and the current-data slot with the parent; the
// property bag is copied so stage-local writes do not leak upward, while
// parent writes made before derivation are observed.
type ExecutionContext struct {
	ExecutionID string
	PipelineID  string
	Config      Config
	Logger      *logger.Logger
	StartTime   time.Time

	StageID   string
	StageName string

	ctx   context.Context
	state *runState

	propsMu sync.RWMutex
	props   map[string]any
}

// NewExecutionContext mints a context for a fresh run.
func NewExecutionContext(ctx context.Context, pipelineID string, cfg Config, log *logger.Logger) *ExecutionContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ExecutionContext{
		ExecutionID: uuid.NewString(),
		PipelineID:  pipelineID,
		Config:      cfg.ApplyDefaults(),
		Logger:      log,
		StartTime:   time.Now().UTC(),
		ctx:         ctx,
		state:       &runState{stats: &Statistics{}},
		props:       make(map[string]any),
	}
}

// Context returns the cancellation signal for this run.
func (c *ExecutionContext) Context() context.Context {
	return c.ctx
}

// Err reports the cancellation state.
func (c *ExecutionContext) Err() error {
	return c.ctx.Err()
}

// StageContext derives a context for the given stage. Properties are
// shallow-copied; everything else is shared by reference.
func (c *ExecutionContext) StageContext(stage Stage) *ExecutionContext {
	c.propsMu.RLock()
	props := make(map[string]any, len(c.props))
	for k, v := range c.props {
		props[k] = v
	}
	c.propsMu.RUnlock()

	return &ExecutionContext{
		ExecutionID: c.ExecutionID,
		PipelineID:  c.PipelineID,
		Config:      c.Config,
		Logger: c.Logger.WithFields(map[string]any{
			"stage_id":   stage.ID(),
			"stage_name": stage.Name(),
		}),
		StartTime: c.StartTime,
		StageID:   stage.ID(),
		StageName: stage.Name(),
		ctx:       c.ctx,
		state:     c.state,
		props:     props,
	}
}

// SetProperty stores a value in the property bag.
func (c *ExecutionContext) SetProperty(key string, value any) {
	c.propsMu.Lock()
	c.props[key] = value
	c.propsMu.Unlock()
}

// Property reads a value from the property bag.
func (c *ExecutionContext) Property(key string) (any, bool) {
	c.propsMu.RLock()
	defer c.propsMu.RUnlock()
	v, ok := c.props[key]
	return v, ok
}

// AppendProperty appends to a string-slice property, creating it on first use.
func (c *ExecutionContext) AppendProperty(key, value string) {
	c.propsMu.Lock()
	defer c.propsMu.Unlock()
	existing, _ := c.props[key].([]string)
	c.props[key] = append(existing, value)
}

// AddError appends an error to the run. Errors are append-only.
func (c *ExecutionContext) AddError(err ExecutionError) {
	c.state.mu.Lock()
	c.state.errors = append(c.state.errors, err)
	c.state.mu.Unlock()
}

// Errors returns a copy of the accumulated errors.
func (c *ExecutionContext) Errors() []ExecutionError {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return append([]ExecutionError(nil), c.state.errors...)
}

// ErrorCount returns the number of accumulated errors.
func (c *ExecutionContext) ErrorCount() int {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return len(c.state.errors)
}

// AddWarning appends a warning to the run. Warnings are append-only.
func (c *ExecutionContext) AddWarning(msg string) {
	c.state.mu.Lock()
	c.state.warnings = append(c.state.warnings, msg)
	c.state.mu.Unlock()
}

// Warnings returns a copy of the accumulated warnings.
func (c *ExecutionContext) Warnings() []string {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return append([]string(nil), c.state.warnings...)
}

// Stats exposes the shared statistics object.
func (c *ExecutionContext) Stats() *Statistics {
	return c.state.stats
}

// SetCurrentData stores the data payload flowing between stages.
func (c *ExecutionContext) SetCurrentData(data any) {
	c.state.mu.Lock()
	c.state.current = data
	c.state.mu.Unlock()
}

// CurrentData returns the data payload flowing between stages.
func (c *ExecutionContext) CurrentData() any {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return c.state.current
}
