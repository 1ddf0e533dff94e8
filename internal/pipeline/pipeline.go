package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Pipeline is an ordered composition of stages executed once per run.
type Pipeline struct {
	id          string
	name        string
	description string

	mu     sync.Mutex
	stages []Stage
	status Status
}

// New constructs a pipeline with the given identity.
func New(id, name string) *Pipeline {
	return &Pipeline{
		id:     id,
		name:   name,
		status: StatusReady,
	}
}

func (p *Pipeline) ID() string   { return p.id }
func (p *Pipeline) Name() string { return p.name }

// SetDescription attaches a human-readable description.
func (p *Pipeline) SetDescription(desc string) { p.description = desc }

// Description returns the pipeline description.
func (p *Pipeline) Description() string { return p.description }

// Status returns the composite pipeline status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// AddStage appends a stage. Stages cannot be added while the pipeline runs.
func (p *Pipeline) AddStage(stage Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		return newStateError("cannot modify stages while pipeline is running", map[string]interface{}{
			"pipeline_id": p.id,
		})
	}
	p.stages = append(p.stages, stage)
	return nil
}

// RemoveStage removes a stage by id. Stages cannot be removed while running.
func (p *Pipeline) RemoveStage(stageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		return newStateError("cannot modify stages while pipeline is running", map[string]interface{}{
			"pipeline_id": p.id,
		})
	}
	for i, s := range p.stages {
		if s.ID() == stageID {
			p.stages = append(p.stages[:i], p.stages[i+1:]...)
			return nil
		}
	}
	return newDomainError(ErrCodeNotFound, "stage not found", nil, map[string]interface{}{"stage_id": stageID})
}

// Stages returns a copy of the stage list.
func (p *Pipeline) Stages() []Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Stage(nil), p.stages...)
}

// Validate checks the pipeline invariants before execution. A pipeline with
// no stages is valid; the condition surfaces as a warning at run time.
func (p *Pipeline) Validate() error {
	if p.name == "" {
		return newMissingFieldError("name")
	}

	p.mu.Lock()
	stages := append([]Stage(nil), p.stages...)
	p.mu.Unlock()

	orders := make(map[int]string, len(stages))
	for _, stage := range stages {
		if stage.Name() == "" {
			return newValidationError("stage name must not be empty", map[string]interface{}{
				"stage_id": stage.ID(),
			})
		}
		if stage.Order() < 0 {
			return newValidationError("stage order must be non-negative", map[string]interface{}{
				"stage_id": stage.ID(),
			})
		}
		if existing, dup := orders[stage.Order()]; dup {
			return newDuplicateOrderError(stage.Order(), stage.ID()).WithContext(map[string]interface{}{
				"conflicts_with": existing,
			})
		}
		orders[stage.Order()] = stage.ID()
	}
	return nil
}

// Execute runs the pipeline against the supplied execution context and
// returns the run result. Validation failures, stop-on-error escalation,
// exceeded error budgets, and cancellation are returned as errors; all other
// failures are reported only through the result.
func (p *Pipeline) Execute(execCtx *ExecutionContext) (*PipelineExecutionResult, error) {
	result := &PipelineExecutionResult{
		ExecutionID: execCtx.ExecutionID,
		PipelineID:  p.id,
		StartTime:   time.Now().UTC(),
	}

	if err := p.Validate(); err != nil {
		result.EndTime = time.Now().UTC()
		result.Status = StatusFailed
		p.setStatus(StatusFailed)
		result.mergeContextErrors(execCtx)
		return result, err
	}

	p.mu.Lock()
	if p.status == StatusRunning {
		p.mu.Unlock()
		result.EndTime = time.Now().UTC()
		result.Status = StatusFailed
		return result, newStateError("pipeline is already running", map[string]interface{}{"pipeline_id": p.id})
	}
	p.status = StatusRunning
	stages := append([]Stage(nil), p.stages...)
	p.mu.Unlock()

	if len(stages) == 0 {
		execCtx.AddWarning(fmt.Sprintf("pipeline %s has no stages", p.name))
	}

	plan := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage.Status() != StatusReady && stage.Status() != StatusSkipped {
			stage.Reset()
		}
		if stage.Status() == StatusSkipped {
			continue
		}
		plan = append(plan, stage)
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Order() < plan[j].Order() })

	var fatal *DomainError

	for _, stage := range plan {
		if execCtx.Err() != nil {
			return p.finishCancelled(execCtx, result)
		}

		stageCtx := execCtx.StageContext(stage)
		stageRes := StageExecutionResult{
			StageID:   stage.ID(),
			StageName: stage.Name(),
			StartTime: time.Now().UTC(),
		}

		if err := stage.TransitionTo(StatusRunning); err != nil {
			result.EndTime = time.Now().UTC()
			result.Status = StatusFailed
			p.setStatus(StatusFailed)
			result.mergeContextErrors(execCtx)
			return result, err
		}
		stageCtx.Logger.Debug("stage started")

		var stageErr error
		if stageErr = stage.Prepare(stageCtx); stageErr == nil {
			var count int64
			count, stageErr = stage.Execute(stageCtx)
			result.RecordsProcessed += count
		}

		if stageErr != nil && execCtx.Err() != nil {
			_ = stage.TransitionTo(StatusCancelled)
			stageRes.Status = StatusCancelled
			stageRes.EndTime = time.Now().UTC()
			result.StageResults = append(result.StageResults, stageRes)
			return p.finishCancelled(execCtx, result)
		}

		if stageErr != nil {
			execErr := NewExecutionError(string(ErrCodeStageExecution), stage.Name(), stageErr.Error(), stageErr)
			stageRes.Errors = append(stageRes.Errors, execErr)
			execCtx.AddError(execErr)
			_ = stage.TransitionTo(StatusFailed)
			stageRes.Status = StatusFailed
			stageCtx.Logger.Error(stageErr, "stage failed")

			if execCtx.Config.ErrorHandling.StopOnError {
				fatal = newDomainError(ErrCodeStopOnError, "stopping run after stage failure", stageErr, map[string]interface{}{
					"stage_id": stage.ID(),
				})
			}
		} else {
			_ = stage.TransitionTo(StatusCompleted)
			stageRes.Status = StatusCompleted
			stageCtx.Logger.Debug("stage completed")
		}

		if cleanupErr := stage.Cleanup(stageCtx); cleanupErr != nil {
			warn := fmt.Sprintf("cleanup failed for stage %s: %v", stage.Name(), cleanupErr)
			execCtx.AddWarning(warn)
			stageCtx.Logger.Warn(warn)
		}

		stageRes.EndTime = time.Now().UTC()
		result.StageResults = append(result.StageResults, stageRes)

		if fatal != nil {
			break
		}
	}

	if fatal == nil {
		maxErrors := execCtx.Config.ErrorHandling.MaxErrors
		if count := execCtx.ErrorCount(); count > maxErrors {
			fatal = newDomainError(ErrCodeErrorBudget, "accumulated errors exceed the configured budget", nil, map[string]interface{}{
				"errors":     count,
				"max_errors": maxErrors,
			})
		}
	}

	result.EndTime = time.Now().UTC()
	result.mergeContextErrors(execCtx)
	result.Statistics = execCtx.Stats().Snapshot()
	result.RecordsFailed = result.Statistics.RecordsFailed

	if fatal != nil {
		result.Status = StatusFailed
		result.Success = false
		p.setStatus(StatusFailed)
		return result, fatal
	}

	if len(result.Errors) == 0 {
		result.Status = StatusCompleted
		result.Success = true
		p.setStatus(StatusCompleted)
	} else {
		result.Status = StatusFailed
		result.Success = false
		p.setStatus(StatusFailed)
	}
	return result, nil
}

// finishCancelled performs cancellation bookkeeping and re-raises the
// original cancellation exactly once.
func (p *Pipeline) finishCancelled(execCtx *ExecutionContext, result *PipelineExecutionResult) (*PipelineExecutionResult, error) {
	result.EndTime = time.Now().UTC()
	result.Status = StatusCancelled
	result.Success = false
	result.mergeContextErrors(execCtx)
	result.Statistics = execCtx.Stats().Snapshot()
	result.RecordsFailed = result.Statistics.RecordsFailed
	p.setStatus(StatusCancelled)
	execCtx.Logger.Warn("pipeline cancelled")
	return result, newCancelledError(execCtx.Err())
}

func (p *Pipeline) setStatus(status Status) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}
