package pipeline

import (
	"sync"
	"time"
)

// StageType tags the role a stage plays in the pipeline.
type StageType string

const (
	StageTypeExtract   StageType = "extract"
	StageTypeTransform StageType = "transform"
	StageTypeLoad      StageType = "load"
	StageTypeCustom    StageType = "custom"
)

// Status enumerates stage and run states.
type Status string

const (
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
)

// Stage is a unit of pipeline work with a prepare/execute/cleanup lifecycle.
// Execute returns the number of records processed.
type Stage interface {
	ID() string
	Name() string
	Description() string
	Type() StageType
	Order() int
	Status() Status
	TransitionTo(Status) error
	Reset()
	Prepare(*ExecutionContext) error
	Execute(*ExecutionContext) (int64, error)
	Cleanup(*ExecutionContext) error
}

// BaseStage carries stage identity and concurrency-safe status handling.
// Concrete stages embed it and implement Execute.
type BaseStage struct {
	id          string
	name        string
	description string
	stageType   StageType
	order       int

	mu     sync.RWMutex
	status Status
}

// NewBaseStage constructs the embedded identity portion of a stage.
func NewBaseStage(id, name string, stageType StageType, order int) BaseStage {
	return BaseStage{
		id:        id,
		name:      name,
		stageType: stageType,
		order:     order,
		status:    StatusReady,
	}
}

func (s *BaseStage) ID() string          { return s.id }
func (s *BaseStage) Name() string        { return s.name }
func (s *BaseStage) Description() string { return s.description }
func (s *BaseStage) Type() StageType     { return s.stageType }
func (s *BaseStage) Order() int          { return s.order }

// SetDescription attaches a human-readable description.
func (s *BaseStage) SetDescription(desc string) { s.description = desc }

// Status returns the current status.
func (s *BaseStage) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// TransitionTo moves the stage through its state machine:
// Ready -> Running -> {Completed | Failed | Cancelled}. Skipped is assignable
// only before Running. Transitions are monotonic within a run.
func (s *BaseStage) TransitionTo(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := false
	switch s.status {
	case StatusReady:
		valid = next == StatusRunning || next == StatusSkipped
	case StatusRunning:
		valid = next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	if !valid {
		return newStateError("invalid stage status transition", map[string]interface{}{
			"stage_id": s.id,
			"from":     string(s.status),
			"to":       string(next),
		})
	}
	s.status = next
	return nil
}

// Reset returns the stage to Ready between runs.
func (s *BaseStage) Reset() {
	s.mu.Lock()
	s.status = StatusReady
	s.mu.Unlock()
}

// Validate checks the stage identity invariants.
func (s *BaseStage) Validate() error {
	if s.name == "" {
		return newMissingFieldError("name")
	}
	if s.order < 0 {
		return newValidationError("stage order must be non-negative", map[string]interface{}{
			"stage_id": s.id,
			"order":    s.order,
		})
	}
	return nil
}

// Prepare defaults to a no-op.
func (s *BaseStage) Prepare(*ExecutionContext) error { return nil }

// Cleanup defaults to a no-op.
func (s *BaseStage) Cleanup(*ExecutionContext) error { return nil }

// FuncStage adapts plain functions into a Stage. The run function is
// required; prepare and cleanup hooks are optional.
type FuncStage struct {
	BaseStage
	RunFunc     func(*ExecutionContext) (int64, error)
	PrepareFunc func(*ExecutionContext) error
	CleanupFunc func(*ExecutionContext) error
}

// NewFuncStage builds a FuncStage with the given identity and run function.
func NewFuncStage(id, name string, stageType StageType, order int, run func(*ExecutionContext) (int64, error)) *FuncStage {
	return &FuncStage{
		BaseStage: NewBaseStage(id, name, stageType, order),
		RunFunc:   run,
	}
}

// Prepare invokes the optional prepare hook.
func (s *FuncStage) Prepare(ctx *ExecutionContext) error {
	if s.PrepareFunc == nil {
		return nil
	}
	return s.PrepareFunc(ctx)
}

// Execute runs the stage function.
func (s *FuncStage) Execute(ctx *ExecutionContext) (int64, error) {
	if s.RunFunc == nil {
		return 0, newValidationError("stage has no run function", map[string]interface{}{"stage_id": s.ID()})
	}
	return s.RunFunc(ctx)
}

// Cleanup invokes the optional cleanup hook.
func (s *FuncStage) Cleanup(ctx *ExecutionContext) error {
	if s.CleanupFunc == nil {
		return nil
	}
	return s.CleanupFunc(ctx)
}

// StageExecutionResult captures the outcome of one stage within a run.
type StageExecutionResult struct {
	StageID          string
	StageName        string
	Status           Status
	StartTime        time.Time
	EndTime          time.Time
	RecordsProcessed int64
	Errors           []ExecutionError
}

// Duration returns the stage wall-clock time.
func (r StageExecutionResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
