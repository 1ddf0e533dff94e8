// Package orchestrator coordinates pipeline executions: it registers active
// runs, fans lifecycle events out on the bus, keeps an in-memory history,
// and drives the periodic scheduler.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refinery-etl/refinery/internal/events"
	"github.com/refinery-etl/refinery/internal/logger"
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/schedule"
	refineryerrors "github.com/refinery-etl/refinery/pkg/errors"
)

// ExecutionState is an execution's lifecycle phase.
type ExecutionState string

const (
	StateRunning   ExecutionState = "running"
	StateCompleted ExecutionState = "completed"
	StateFailed    ExecutionState = "failed"
	StateCancelled ExecutionState = "cancelled"
)

// ExecutionStatus is the externally visible view of one execution.
type ExecutionStatus struct {
	ExecutionID      string
	PipelineID       string
	State            ExecutionState
	StartTime        time.Time
	EndTime          time.Time
	RecordsProcessed int64
}

const (
	defaultTick        = 60 * time.Second
	defaultStopGrace   = 30 * time.Second
	defaultHistorySize = 1000
)

// Options tunes the orchestrator.
type Options struct {
	// Tick is the scheduler interval; zero means 60 seconds.
	Tick time.Duration
	// StopGrace is the delay before a non-forced stop cancels; zero means
	// 30 seconds.
	StopGrace time.Duration
	// HistoryLimit bounds retained results; zero means 1000.
	HistoryLimit int
}

// Orchestrator runs pipelines and tracks their executions.
type Orchestrator struct {
	logger *logger.Logger
	bus    *events.Bus
	opts   Options
	now    func() time.Time

	mu        sync.RWMutex
	pipelines map[string]*pipeline.Pipeline
	active    map[string]*ExecutionStatus
	cancels   map[string]context.CancelFunc
	history   map[string]*pipeline.PipelineExecutionResult
	historyIx []string

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	schedulerMu     sync.Mutex
	schedulerCancel context.CancelFunc
	schedulerDone   chan struct{}
}

// New builds an orchestrator. The bus may be nil when no messaging is wired.
func New(log *logger.Logger, bus *events.Bus, opts Options) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	if bus == nil {
		bus = events.NewBus(log)
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistorySize
	}
	return &Orchestrator{
		logger:    log,
		bus:       bus,
		opts:      opts,
		now:       time.Now,
		pipelines: make(map[string]*pipeline.Pipeline),
		active:    make(map[string]*ExecutionStatus),
		cancels:   make(map[string]context.CancelFunc),
		history:   make(map[string]*pipeline.PipelineExecutionResult),
		jobs:      make(map[string]*Job),
	}
}

// Bus exposes the event bus for subscriber registration.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// RegisterPipeline adds a pipeline to the registry. Registration is required
// for scheduled jobs; direct Execute calls accept unregistered pipelines.
func (o *Orchestrator) RegisterPipeline(p *pipeline.Pipeline) error {
	if p == nil {
		return fmt.Errorf("orchestrator: pipeline is nil")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pipelines[p.ID()]; exists {
		return fmt.Errorf("orchestrator: pipeline %s already registered", p.ID())
	}
	o.pipelines[p.ID()] = p
	return nil
}

// Pipeline looks up a registered pipeline.
func (o *Orchestrator) Pipeline(id string) (*pipeline.Pipeline, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.pipelines[id]
	return p, ok
}

// Execute runs the pipeline to completion, registering the execution for
// the duration of the run. The returned result is always populated; the
// error reports pipeline-fatal conditions (validation, stop-on-error,
// error budget, cancellation).
func (o *Orchestrator) Execute(ctx context.Context, p *pipeline.Pipeline, cfg pipeline.Config) (*pipeline.PipelineExecutionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	execCtx := pipeline.NewExecutionContext(runCtx, p.ID(), cfg, o.logger)
	id := execCtx.ExecutionID

	status := &ExecutionStatus{
		ExecutionID: id,
		PipelineID:  p.ID(),
		State:       StateRunning,
		StartTime:   o.now().UTC(),
	}
	o.mu.Lock()
	o.active[id] = status
	o.cancels[id] = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, id)
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
	}()

	o.publish(events.TopicPipelineStarted, id, p.ID(), nil)
	o.logger.Infof("execution %s started for pipeline %s", id, p.ID())

	result, err := p.Execute(execCtx)

	endTime := o.now().UTC()
	o.mu.Lock()
	status.EndTime = endTime
	if result != nil {
		status.RecordsProcessed = result.RecordsProcessed
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status.State = StateCancelled
	case err != nil || (result != nil && !result.Success):
		status.State = StateFailed
	default:
		status.State = StateCompleted
	}
	finalState := status.State
	if result != nil {
		o.appendHistoryLocked(result)
	}
	o.mu.Unlock()

	if result != nil && len(result.StageResults) > 0 {
		o.publishStageEvents(id, p.ID(), result)
	}

	switch finalState {
	case StateCancelled:
		o.publish(events.TopicPipelineCancelled, id, p.ID(), result)
		o.logger.Warnf("execution %s cancelled", id)
		return result, refineryerrors.NewExecutionError(id, err)
	case StateFailed:
		o.publish(events.TopicPipelineFailed, id, p.ID(), result)
		o.logger.Warnf("execution %s failed", id)
		if err != nil {
			return result, refineryerrors.NewExecutionError(id, err)
		}
		return result, nil
	default:
		o.publish(events.TopicPipelineCompleted, id, p.ID(), result)
		o.logger.Infof("execution %s completed: %d records", id, status.RecordsProcessed)
		return result, nil
	}
}

// appendHistoryLocked stores a result, evicting the oldest past the limit.
// Caller holds o.mu.
func (o *Orchestrator) appendHistoryLocked(result *pipeline.PipelineExecutionResult) {
	o.history[result.ExecutionID] = result
	o.historyIx = append(o.historyIx, result.ExecutionID)
	for len(o.historyIx) > o.opts.HistoryLimit {
		delete(o.history, o.historyIx[0])
		o.historyIx = o.historyIx[1:]
	}
}

// publishStageEvents emits one stage-completion message per executed stage
// followed by the aggregate data-processed message for the run.
func (o *Orchestrator) publishStageEvents(executionID, pipelineID string, result *pipeline.PipelineExecutionResult) {
	for _, sr := range result.StageResults {
		o.bus.Publish(events.TopicStageCompleted, executionID, map[string]any{
			"execution_id": executionID,
			"pipeline_id":  pipelineID,
			"stage_id":     sr.StageID,
			"stage_name":   sr.StageName,
			"status":       string(sr.Status),
			"timestamp":    o.now().UTC(),
		}, nil)
	}
	o.bus.Publish(events.TopicDataProcessed, executionID, map[string]any{
		"execution_id":      executionID,
		"pipeline_id":       pipelineID,
		"records_processed": result.RecordsProcessed,
		"records_failed":    result.RecordsFailed,
		"timestamp":         o.now().UTC(),
	}, nil)
}

func (o *Orchestrator) publish(topic, executionID, pipelineID string, result *pipeline.PipelineExecutionResult) {
	body := map[string]any{
		"execution_id": executionID,
		"pipeline_id":  pipelineID,
		"timestamp":    o.now().UTC(),
	}
	if result != nil {
		body["success"] = result.Success
		body["records_processed"] = result.RecordsProcessed
		body["records_failed"] = result.RecordsFailed
		body["error_count"] = len(result.Errors)
	}
	o.bus.Publish(topic, executionID, body, nil)
}

// Status returns the live status of an active execution.
func (o *Orchestrator) Status(executionID string) (ExecutionStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.active[executionID]; ok {
		return *s, true
	}
	return ExecutionStatus{}, false
}

// ActiveExecutions snapshots all running executions.
func (o *Orchestrator) ActiveExecutions() []ExecutionStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ExecutionStatus, 0, len(o.active))
	for _, s := range o.active {
		out = append(out, *s)
	}
	return out
}

// History returns the stored result for a finished execution.
func (o *Orchestrator) History(executionID string) (*pipeline.PipelineExecutionResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.history[executionID]
	return r, ok
}

// Stop cancels an execution. With force the cancellation is immediate;
// otherwise it fires after the configured grace period unless the run
// finishes first. Reports whether the execution was found.
func (o *Orchestrator) Stop(executionID string, force bool) bool {
	o.mu.RLock()
	cancel, ok := o.cancels[executionID]
	o.mu.RUnlock()
	if !ok {
		return false
	}

	if force {
		o.logger.Warnf("force-stopping execution %s", executionID)
		cancel()
		return true
	}

	o.logger.Infof("stopping execution %s after %s grace", executionID, o.opts.StopGrace)
	go func() {
		timer := time.NewTimer(o.opts.StopGrace)
		defer timer.Stop()
		<-timer.C
		cancel()
	}()
	return true
}

// Job is one scheduled pipeline run. Mutable schedule fields are guarded by
// the job's own lock.
type Job struct {
	ID         string
	PipelineID string

	mu      sync.Mutex
	spec    schedule.Spec
	nextRun time.Time
	lastRun time.Time
	active  bool
}

// Spec returns the job's schedule configuration.
func (j *Job) Spec() schedule.Spec {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.spec
}

// NextRun returns the next fire time.
func (j *Job) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun
}

// LastRun returns the last fire time, zero if the job never fired.
func (j *Job) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

// Active reports whether the scheduler considers the job.
func (j *Job) Active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.active
}

// SetActive toggles the job without touching its schedule.
func (j *Job) SetActive(active bool) {
	j.mu.Lock()
	j.active = active
	j.mu.Unlock()
}

// claim advances nextRun past now iff the job is due, returning whether the
// caller won the launch. The compare-and-advance under the job lock is what
// keeps concurrent ticks from double-launching.
func (j *Job) claim(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.active || j.nextRun.After(now) {
		return false
	}
	next, err := j.spec.Next(now)
	if err != nil {
		next = schedule.FarFuture
	}
	j.lastRun = now
	j.nextRun = next
	return true
}

// ScheduleJob registers a scheduled run for a previously registered
// pipeline and returns the job id.
func (o *Orchestrator) ScheduleJob(pipelineID string, spec schedule.Spec) (string, error) {
	if _, ok := o.Pipeline(pipelineID); !ok {
		return "", fmt.Errorf("orchestrator: pipeline %s is not registered", pipelineID)
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	next, err := spec.Next(o.now().UTC())
	if err != nil {
		return "", err
	}

	job := &Job{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		spec:       spec,
		nextRun:    next,
		active:     true,
	}
	o.jobsMu.Lock()
	o.jobs[job.ID] = job
	o.jobsMu.Unlock()

	o.logger.Infof("scheduled job %s for pipeline %s, next run %s", job.ID, pipelineID, next)
	return job.ID, nil
}

// Job looks up a scheduled job.
func (o *Orchestrator) Job(id string) (*Job, bool) {
	o.jobsMu.RLock()
	defer o.jobsMu.RUnlock()
	j, ok := o.jobs[id]
	return j, ok
}

// RemoveJob deletes a scheduled job. Reports whether it existed.
func (o *Orchestrator) RemoveJob(id string) bool {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	if _, ok := o.jobs[id]; !ok {
		return false
	}
	delete(o.jobs, id)
	return true
}

// StartScheduler launches the periodic scheduler loop. Starting twice is a
// no-op.
func (o *Orchestrator) StartScheduler(ctx context.Context) {
	o.schedulerMu.Lock()
	defer o.schedulerMu.Unlock()
	if o.schedulerCancel != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.schedulerCancel = cancel
	o.schedulerDone = make(chan struct{})

	go func() {
		defer close(o.schedulerDone)
		ticker := time.NewTicker(o.opts.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				o.Tick(loopCtx)
			}
		}
	}()
	o.logger.Infof("scheduler started with %s tick", o.opts.Tick)
}

// StopScheduler stops the scheduler loop and waits for it to drain.
func (o *Orchestrator) StopScheduler() {
	o.schedulerMu.Lock()
	cancel := o.schedulerCancel
	done := o.schedulerDone
	o.schedulerCancel = nil
	o.schedulerDone = nil
	o.schedulerMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Tick runs one scheduler pass: every due job is claimed and its pipeline
// launched in the background.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := o.now().UTC()

	o.jobsMu.RLock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.jobsMu.RUnlock()

	for _, job := range jobs {
		if !job.claim(now) {
			continue
		}
		p, ok := o.Pipeline(job.PipelineID)
		if !ok {
			o.logger.Warnf("job %s references unknown pipeline %s", job.ID, job.PipelineID)
			continue
		}
		o.logger.Debugf("job %s firing pipeline %s", job.ID, job.PipelineID)
		go func(job *Job, p *pipeline.Pipeline) {
			if _, err := o.Execute(ctx, p, pipeline.Config{}); err != nil {
				o.logger.Error(err, fmt.Sprintf("scheduled run of pipeline %s failed", p.ID()))
			}
		}(job, p)
	}
}
