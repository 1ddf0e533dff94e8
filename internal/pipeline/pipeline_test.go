package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T, cfg Config) *ExecutionContext {
	t.Helper()
	return NewExecutionContext(context.Background(), "pl-test", cfg, nil)
}

func countingStage(id string, order int, count int64) *FuncStage {
	return NewFuncStage(id, id, StageTypeCustom, order, func(*ExecutionContext) (int64, error) {
		return count, nil
	})
}

func failingStage(id string, order int) *FuncStage {
	return NewFuncStage(id, id, StageTypeCustom, order, func(*ExecutionContext) (int64, error) {
		return 0, fmt.Errorf("stage %s exploded", id)
	})
}

func TestValidateEmptyName(t *testing.T) {
	p := New("pl-1", "")
	err := p.Validate()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeMissing, domainErr.Code)
}

func TestValidateDuplicateOrders(t *testing.T) {
	p := New("pl-1", "dup")
	require.NoError(t, p.AddStage(countingStage("a", 1, 0)))
	require.NoError(t, p.AddStage(countingStage("b", 1, 0)))

	err := p.Validate()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeDuplicateOrder, domainErr.Code)

	execCtx := newTestContext(t, Config{})
	result, execErr := p.Execute(execCtx)
	require.ErrorAs(t, execErr, &domainErr)
	assert.Equal(t, ErrCodeDuplicateOrder, domainErr.Code)

	// Result and pipeline agree on the failure.
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StatusFailed, p.Status())
}

func TestValidateEmptyStageName(t *testing.T) {
	p := New("pl-1", "unnamed-stage")
	require.NoError(t, p.AddStage(NewFuncStage("s1", "", StageTypeCustom, 1, nil)))

	err := p.Validate()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeValidation, domainErr.Code)
}

func TestExecuteEmptyPipeline(t *testing.T) {
	p := New("pl-1", "empty")
	execCtx := newTestContext(t, Config{})

	result, err := p.Execute(execCtx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, int64(0), result.RecordsProcessed)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "no stages")
}

func TestExecuteRunsStagesInAscendingOrder(t *testing.T) {
	var seen []string
	mk := func(id string, order int) *FuncStage {
		return NewFuncStage(id, id, StageTypeCustom, order, func(*ExecutionContext) (int64, error) {
			seen = append(seen, id)
			return 1, nil
		})
	}

	p := New("pl-1", "ordered")
	require.NoError(t, p.AddStage(mk("third", 30)))
	require.NoError(t, p.AddStage(mk("first", 10)))
	require.NoError(t, p.AddStage(mk("second", 20)))

	result, err := p.Execute(newTestContext(t, Config{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, seen)
	assert.Equal(t, int64(3), result.RecordsProcessed)
	assert.Equal(t, StatusCompleted, result.Status)
	for _, sr := range result.StageResults {
		assert.Equal(t, StatusCompleted, sr.Status)
		assert.False(t, sr.EndTime.Before(sr.StartTime))
	}
}

func TestExecuteSkippedStagesAreExcluded(t *testing.T) {
	p := New("pl-1", "skippy")
	skipped := countingStage("skipped", 1, 5)
	require.NoError(t, skipped.TransitionTo(StatusSkipped))
	require.NoError(t, p.AddStage(skipped))
	require.NoError(t, p.AddStage(countingStage("kept", 2, 7)))

	result, err := p.Execute(newTestContext(t, Config{}))
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.RecordsProcessed)
	require.Len(t, result.StageResults, 1)
	assert.Equal(t, "kept", result.StageResults[0].StageID)
}

func TestExecuteStageFailureWithoutStopOnError(t *testing.T) {
	p := New("pl-1", "lenient")
	require.NoError(t, p.AddStage(failingStage("bad", 1)))
	require.NoError(t, p.AddStage(countingStage("good", 2, 3)))

	result, err := p.Execute(newTestContext(t, Config{ErrorHandling: ErrorHandling{MaxErrors: 5}}))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, int64(3), result.RecordsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, string(ErrCodeStageExecution), result.Errors[0].Code)
	assert.Equal(t, "bad", result.Errors[0].Source)
}

func TestExecuteStopOnErrorAbortsSubsequentStages(t *testing.T) {
	ran := false
	p := New("pl-1", "strict")
	require.NoError(t, p.AddStage(failingStage("bad", 1)))
	require.NoError(t, p.AddStage(NewFuncStage("after", "after", StageTypeCustom, 2, func(*ExecutionContext) (int64, error) {
		ran = true
		return 0, nil
	})))

	cfg := Config{ErrorHandling: ErrorHandling{StopOnError: true, MaxErrors: 10}}
	result, err := p.Execute(newTestContext(t, cfg))

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeStopOnError, domainErr.Code)
	assert.False(t, ran)
	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, result.StageResults, 1)
}

func TestExecuteErrorBudgetExceeded(t *testing.T) {
	p := New("pl-1", "budget")
	require.NoError(t, p.AddStage(failingStage("bad1", 1)))
	require.NoError(t, p.AddStage(failingStage("bad2", 2)))

	result, err := p.Execute(newTestContext(t, Config{ErrorHandling: ErrorHandling{MaxErrors: 1}}))

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeErrorBudget, domainErr.Code)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Len(t, result.Errors, 2)
}

func TestExecuteZeroErrorBudget(t *testing.T) {
	p := New("pl-1", "zero-budget")
	require.NoError(t, p.AddStage(failingStage("bad", 1)))

	_, err := p.Execute(newTestContext(t, Config{ErrorHandling: ErrorHandling{MaxErrors: 0}}))
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeErrorBudget, domainErr.Code)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New("pl-1", "cancelled")
	require.NoError(t, p.AddStage(NewFuncStage("first", "first", StageTypeCustom, 1, func(*ExecutionContext) (int64, error) {
		cancel()
		return 1, nil
	})))
	require.NoError(t, p.AddStage(countingStage("second", 2, 1)))

	execCtx := NewExecutionContext(ctx, "pl-1", Config{}, nil)
	result, err := p.Execute(execCtx)

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeCancelled, domainErr.Code)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StatusCancelled, result.Status)
	assert.False(t, result.EndTime.Before(result.StartTime))
	// Only the first stage ran before cancellation was observed.
	assert.Equal(t, int64(1), result.RecordsProcessed)
}

func TestExecuteCleanupFailureIsWarning(t *testing.T) {
	stage := countingStage("tidy", 1, 1)
	stage.CleanupFunc = func(*ExecutionContext) error {
		return fmt.Errorf("cleanup blew up")
	}

	p := New("pl-1", "cleanup")
	require.NoError(t, p.AddStage(stage))

	result, err := p.Execute(newTestContext(t, Config{}))
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "cleanup failed")
}

func TestExecuteDeterministicAcrossRuns(t *testing.T) {
	build := func() *Pipeline {
		p := New("pl-1", "repeat")
		_ = p.AddStage(countingStage("a", 1, 2))
		_ = p.AddStage(failingStage("b", 2))
		return p
	}

	first, err1 := build().Execute(newTestContext(t, Config{ErrorHandling: ErrorHandling{MaxErrors: 5}}))
	second, err2 := build().Execute(newTestContext(t, Config{ErrorHandling: ErrorHandling{MaxErrors: 5}}))

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first.RecordsProcessed, second.RecordsProcessed)
	assert.Equal(t, first.Success, second.Success)
	require.Equal(t, len(first.Errors), len(second.Errors))
	for i := range first.Errors {
		assert.Equal(t, first.Errors[i].Code, second.Errors[i].Code)
	}
}

func TestExecuteReRunResetsStageStatus(t *testing.T) {
	p := New("pl-1", "rerun")
	stage := countingStage("a", 1, 1)
	require.NoError(t, p.AddStage(stage))

	_, err := p.Execute(newTestContext(t, Config{}))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stage.Status())

	result, err := p.Execute(newTestContext(t, Config{}))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestAddStageWhileRunning(t *testing.T) {
	p := New("pl-1", "busy")
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.AddStage(NewFuncStage("slow", "slow", StageTypeCustom, 1, func(*ExecutionContext) (int64, error) {
		close(started)
		<-release
		return 0, nil
	})))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Execute(newTestContext(t, Config{}))
	}()

	<-started
	err := p.AddStage(countingStage("late", 2, 0))
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, ErrCodeState, domainErr.Code)

	close(release)
	<-done
}

func TestStageStateMachine(t *testing.T) {
	stage := countingStage("sm", 1, 0)
	assert.Equal(t, StatusReady, stage.Status())

	require.NoError(t, stage.TransitionTo(StatusRunning))
	assert.Error(t, stage.TransitionTo(StatusSkipped), "skipped only assignable before running")
	require.NoError(t, stage.TransitionTo(StatusCompleted))
	assert.Error(t, stage.TransitionTo(StatusRunning), "terminal states are sticky")

	stage.Reset()
	assert.Equal(t, StatusReady, stage.Status())
	require.NoError(t, stage.TransitionTo(StatusSkipped))
}

func TestStageContextSharing(t *testing.T) {
	execCtx := newTestContext(t, Config{})
	execCtx.SetProperty("source", "orders")

	stage := countingStage("s", 1, 0)
	stageCtx := execCtx.StageContext(stage)

	v, ok := stageCtx.Property("source")
	require.True(t, ok)
	assert.Equal(t, "orders", v)

	// Stage-local property writes do not leak upward.
	stageCtx.SetProperty("local", true)
	_, ok = execCtx.Property("local")
	assert.False(t, ok)

	// Errors, warnings, and stats are shared by reference.
	stageCtx.AddError(NewExecutionError("X", "s", "boom", nil))
	stageCtx.AddWarning("careful")
	stageCtx.Stats().AddProcessed(4)

	assert.Equal(t, 1, execCtx.ErrorCount())
	assert.Len(t, execCtx.Warnings(), 1)
	assert.Equal(t, int64(4), execCtx.Stats().Snapshot().RecordsProcessed)
}

func TestResultErrorDeduplication(t *testing.T) {
	execCtx := newTestContext(t, Config{})
	err := NewExecutionError("CODE", "src", "same failure", nil)
	execCtx.AddError(err)
	execCtx.AddError(err)

	result := &PipelineExecutionResult{}
	result.mergeContextErrors(execCtx)
	assert.Len(t, result.Errors, 1)
}

func TestExecutionContextIdentity(t *testing.T) {
	a := newTestContext(t, Config{})
	b := newTestContext(t, Config{})
	assert.NotEmpty(t, a.ExecutionID)
	assert.NotEqual(t, a.ExecutionID, b.ExecutionID)
	assert.WithinDuration(t, time.Now().UTC(), a.StartTime, time.Minute)
}
