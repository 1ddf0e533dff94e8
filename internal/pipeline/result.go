package pipeline

import "time"

// PipelineExecutionResult is the single reliable surface describing a run.
type PipelineExecutionResult struct {
	ExecutionID      string
	PipelineID       string
	StartTime        time.Time
	EndTime          time.Time
	Success          bool
	Status           Status
	RecordsProcessed int64
	RecordsFailed    int64
	Errors           []ExecutionError
	Warnings         []string
	Statistics       StatisticsSnapshot
	StageResults     []StageExecutionResult
}

// Duration returns the run wall-clock time.
func (r *PipelineExecutionResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// HasErrorCode reports whether any accumulated error carries the given code.
func (r *PipelineExecutionResult) HasErrorCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// mergeContextErrors copies context errors and warnings into the result,
// de-duplicating errors by identity.
func (r *PipelineExecutionResult) mergeContextErrors(ctx *ExecutionContext) {
	seen := make(map[string]struct{}, len(r.Errors))
	for _, e := range r.Errors {
		seen[e.identity()] = struct{}{}
	}
	for _, e := range ctx.Errors() {
		if _, dup := seen[e.identity()]; dup {
			continue
		}
		seen[e.identity()] = struct{}{}
		r.Errors = append(r.Errors, e)
	}

	seenWarn := make(map[string]struct{}, len(r.Warnings))
	for _, w := range r.Warnings {
		seenWarn[w] = struct{}{}
	}
	for _, w := range ctx.Warnings() {
		if _, dup := seenWarn[w]; dup {
			continue
		}
		seenWarn[w] = struct{}{}
		r.Warnings = append(r.Warnings, w)
	}
}
