package rules

import (
	"fmt"
	"regexp"

	"github.com/spf13/cast"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
	"github.com/refinery-etl/refinery/internal/transform"
)

// ActionOutcome is the result of applying one rule action.
type ActionOutcome struct {
	// Record is the record flowing to the next action. Nil only when the
	// record was skipped.
	Record *record.Record
	// Skip removes the record from the flow.
	Skip bool
	// SkipReason explains a skip.
	SkipReason string
	// Stop aborts remaining actions of this rule and all lower-priority
	// rules.
	Stop bool
}

// Action is one step of a rule's consequence. Actions never mutate their
// input record; they clone, modify, and return the clone.
type Action interface {
	Name() string
	Apply(rec *record.Record, ctx *pipeline.ExecutionContext) (ActionOutcome, error)
}

// SetField writes a value into the record.
type SetField struct {
	Field string
	Value any
}

func (a SetField) Name() string { return "set_field" }

func (a SetField) Apply(rec *record.Record, _ *pipeline.ExecutionContext) (ActionOutcome, error) {
	if a.Field == "" {
		return ActionOutcome{}, fmt.Errorf("set_field: field name is required")
	}
	clone := rec.Clone()
	clone.Set(a.Field, a.Value)
	return ActionOutcome{Record: clone}, nil
}

// RemoveField strips a field from the record. Removing an absent field is
// not an error.
type RemoveField struct {
	Field string
}

func (a RemoveField) Name() string { return "remove_field" }

func (a RemoveField) Apply(rec *record.Record, _ *pipeline.ExecutionContext) (ActionOutcome, error) {
	if a.Field == "" {
		return ActionOutcome{}, fmt.Errorf("remove_field: field name is required")
	}
	clone := rec.Clone()
	clone.Remove(a.Field)
	return ActionOutcome{Record: clone}, nil
}

// CopyField duplicates one field's value under another name.
type CopyField struct {
	Source string
	Target string
}

func (a CopyField) Name() string { return "copy_field" }

func (a CopyField) Apply(rec *record.Record, _ *pipeline.ExecutionContext) (ActionOutcome, error) {
	if a.Source == "" || a.Target == "" {
		return ActionOutcome{}, fmt.Errorf("copy_field: source and target are required")
	}
	v, ok := rec.Get(a.Source)
	if !ok {
		return ActionOutcome{}, fmt.Errorf("copy_field: source field %q not present", a.Source)
	}
	clone := rec.Clone()
	clone.Set(a.Target, v)
	return ActionOutcome{Record: clone}, nil
}

// TransformField runs a transformation as a rule consequence.
type TransformField struct {
	Transformation transform.Transformation
}

func (a TransformField) Name() string { return "transform_field" }

func (a TransformField) Apply(rec *record.Record, ctx *pipeline.ExecutionContext) (ActionOutcome, error) {
	if a.Transformation == nil {
		return ActionOutcome{}, fmt.Errorf("transform_field: transformation is required")
	}
	res := a.Transformation.Transform(rec, ctx)
	if len(res.Errors) > 0 {
		return ActionOutcome{}, fmt.Errorf("transform_field %s: %s", a.Transformation.ID(), res.Errors[0].Message)
	}
	if res.Dropped {
		return ActionOutcome{Skip: true, SkipReason: res.DropReason}, nil
	}
	return ActionOutcome{Record: res.Output}, nil
}

// SkipRecord removes the record from the flow.
type SkipRecord struct {
	Reason string
}

func (a SkipRecord) Name() string { return "skip_record" }

func (a SkipRecord) Apply(*record.Record, *pipeline.ExecutionContext) (ActionOutcome, error) {
	return ActionOutcome{Skip: true, SkipReason: a.Reason}, nil
}

// StopProcessing halts the remaining actions and all further rules.
type StopProcessing struct{}

func (a StopProcessing) Name() string { return "stop_processing" }

func (a StopProcessing) Apply(rec *record.Record, _ *pipeline.ExecutionContext) (ActionOutcome, error) {
	return ActionOutcome{Record: rec, Stop: true}, nil
}

// LogMessage logs a template with {field} placeholders substituted from the
// current record.
type LogMessage struct {
	Template string
	Level    string
}

var logPlaceholder = regexp.MustCompile(`\{([^{}]+)\}`)

func (a LogMessage) Name() string { return "log_message" }

func (a LogMessage) Apply(rec *record.Record, ctx *pipeline.ExecutionContext) (ActionOutcome, error) {
	msg := logPlaceholder.ReplaceAllStringFunc(a.Template, func(m string) string {
		field := m[1 : len(m)-1]
		if v, ok := rec.Get(field); ok {
			return cast.ToString(v)
		}
		return m
	})
	switch a.Level {
	case "debug":
		ctx.Logger.Debug(msg)
	case "warn", "warning":
		ctx.Logger.Warn(msg)
	default:
		ctx.Logger.Info(msg)
	}
	return ActionOutcome{Record: rec}, nil
}

// CustomFunc is a user-supplied rule consequence.
type CustomFunc func(rec *record.Record, ctx *pipeline.ExecutionContext) (*record.Record, error)

// Custom wraps a user function as an action. The function receives the
// current record and must clone before mutating.
type Custom struct {
	ActionName string
	Fn         CustomFunc
}

func (a Custom) Name() string {
	if a.ActionName != "" {
		return a.ActionName
	}
	return "custom"
}

func (a Custom) Apply(rec *record.Record, ctx *pipeline.ExecutionContext) (ActionOutcome, error) {
	if a.Fn == nil {
		return ActionOutcome{}, fmt.Errorf("custom action: function is required")
	}
	out, err := a.Fn(rec, ctx)
	if err != nil {
		return ActionOutcome{}, err
	}
	if out == nil {
		return ActionOutcome{Skip: true, SkipReason: "custom action returned no record"}, nil
	}
	return ActionOutcome{Record: out}, nil
}
