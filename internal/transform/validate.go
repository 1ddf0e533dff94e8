package transform

import (
	"fmt"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// ValidationAction routes a data-quality violation.
type ValidationAction string

const (
	ValidationAddError    ValidationAction = "add_error"
	ValidationAddWarning  ValidationAction = "add_warning"
	ValidationSkipRecord  ValidationAction = "skip_record"
	ValidationSetDefault  ValidationAction = "set_default"
	ValidationRemoveField ValidationAction = "remove_field"
)

// CheckFunc reports a data-quality violation for a field value.
type CheckFunc func(value any) error

// FieldValidation checks one field and routes violations per the configured
// action: AddError fails the record, AddWarning passes it with a warning,
// SkipRecord drops it, SetDefault substitutes a replacement value, and
// RemoveField strips the offending field.
type FieldValidation struct {
	base
	Field   string
	Check   CheckFunc
	Action  ValidationAction
	Default any
}

// NewFieldValidation builds a validation transform.
func NewFieldValidation(id, name, field string, check CheckFunc, action ValidationAction) *FieldValidation {
	return &FieldValidation{
		base:   base{id: id, name: name, typ: TypeField, parallel: true},
		Field:  field,
		Check:  check,
		Action: action,
	}
}

// Validate checks the validation configuration.
func (t *FieldValidation) Validate(*pipeline.ExecutionContext) error {
	if t.Field == "" {
		return fmt.Errorf("field validation %s: field name is required", t.id)
	}
	if t.Check == nil {
		return fmt.Errorf("field validation %s: check function is required", t.id)
	}
	switch t.Action {
	case ValidationAddError, ValidationAddWarning, ValidationSkipRecord, ValidationSetDefault, ValidationRemoveField:
		return nil
	default:
		return fmt.Errorf("field validation %s: unknown action %q", t.id, t.Action)
	}
}

// Transform runs the check and routes any violation.
func (t *FieldValidation) Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *Result {
	violation := t.Check(rec.Value(t.Field))
	if violation == nil {
		return Succeeded(rec, rec, t.id)
	}

	switch t.Action {
	case ValidationAddWarning:
		ctx.AddWarning(fmt.Sprintf("%s: field %q: %v", t.name, t.Field, violation))
		return Succeeded(rec, rec, t.id)
	case ValidationSkipRecord:
		return Drop(rec, t.id, violation.Error())
	case ValidationSetDefault:
		clone := rec.Clone()
		clone.Set(t.Field, t.Default)
		res := Succeeded(rec, clone, t.id)
		res.FieldsAffected = 1
		return res
	case ValidationRemoveField:
		clone := rec.Clone()
		clone.Remove(t.Field)
		res := Succeeded(rec, clone, t.id)
		res.FieldsAffected = 1
		return res
	default: // ValidationAddError
		return Failed(rec, pipeline.NewExecutionError(CodeValidationFailed, t.name,
			fmt.Sprintf("field %q: %v", t.Field, violation), violation))
	}
}

// TransformBatch applies the validation record by record.
func (t *FieldValidation) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	return batchApply(t, recs, ctx)
}

// Metadata describes the validation.
func (t *FieldValidation) Metadata() Metadata {
	return t.metadata(map[string]any{
		"field":  t.Field,
		"action": string(t.Action),
	})
}
