package transform

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
)

// FieldFunc maps a single field value to its replacement.
type FieldFunc func(value any, ctx *pipeline.ExecutionContext) (any, error)

// FieldTransformation applies a function to one field, optionally writing
// the output under a different name.
type FieldTransformation struct {
	base
	Field       string
	TargetField string
	// SkipMissing skips the record when the source field is absent instead
	// of failing it. AllowMissing passes nil to the function instead.
	SkipMissing  bool
	AllowMissing bool
	fn           FieldFunc
}

// NewFieldTransformation builds a field-level transform. When targetField is
// empty the value is written back under the source field name.
func NewFieldTransformation(id, name, field, targetField string, fn FieldFunc) *FieldTransformation {
	return &FieldTransformation{
		base:        base{id: id, name: name, typ: TypeField, parallel: true},
		Field:       field,
		TargetField: targetField,
		fn:          fn,
	}
}

// Validate checks the transform configuration.
func (t *FieldTransformation) Validate(*pipeline.ExecutionContext) error {
	if t.Field == "" {
		return fmt.Errorf("field transformation %s: field name is required", t.id)
	}
	if t.fn == nil {
		return fmt.Errorf("field transformation %s: function is required", t.id)
	}
	return nil
}

// Transform applies the field function against a clone of the record.
func (t *FieldTransformation) Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *Result {
	value, ok := rec.Get(t.Field)
	if !ok && !t.AllowMissing {
		if t.SkipMissing {
			return Skip(rec, t.id, fmt.Sprintf("field %q not present", t.Field))
		}
		return Failed(rec, pipeline.NewExecutionError(CodeTransformFailed, t.name,
			fmt.Sprintf("field %q not present", t.Field), nil))
	}

	out, err := t.fn(value, ctx)
	if err != nil {
		return Failed(rec, pipeline.NewExecutionError(CodeTransformFailed, t.name, err.Error(), err))
	}

	clone := rec.Clone()
	target := t.TargetField
	if target == "" {
		target = t.Field
	} else if target != t.Field {
		clone.Remove(t.Field)
	}
	clone.Set(target, out)

	res := Succeeded(rec, clone, t.id)
	res.FieldsAffected = 1
	return res
}

// TransformBatch applies the transform record by record.
func (t *FieldTransformation) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*Result {
	return batchApply(t, recs, ctx)
}

// Metadata describes the transform.
func (t *FieldTransformation) Metadata() Metadata {
	return t.metadata(map[string]any{
		"field":        t.Field,
		"target_field": t.TargetField,
	})
}

// Trim removes surrounding whitespace from a string field.
func Trim(id, field string) *FieldTransformation {
	return NewFieldTransformation(id, "trim "+field, field, "", func(v any, _ *pipeline.ExecutionContext) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	})
}

// Lowercase folds a string field to lower case.
func Lowercase(id, field string) *FieldTransformation {
	return NewFieldTransformation(id, "lowercase "+field, field, "", func(v any, _ *pipeline.ExecutionContext) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	})
}

// Uppercase folds a string field to upper case.
func Uppercase(id, field string) *FieldTransformation {
	return NewFieldTransformation(id, "uppercase "+field, field, "", func(v any, _ *pipeline.ExecutionContext) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})
}

// Replace substitutes all occurrences of a substring in a string field.
func Replace(id, field, from, to string) *FieldTransformation {
	return NewFieldTransformation(id, "replace in "+field, field, "", func(v any, _ *pipeline.ExecutionContext) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, from, to), nil
	})
}

// Rename moves a field to a new name without touching the value.
func Rename(id, field, target string) *FieldTransformation {
	return NewFieldTransformation(id, "rename "+field, field, target, func(v any, _ *pipeline.ExecutionContext) (any, error) {
		return v, nil
	})
}

// DefaultValue fills a missing or nil field with a default.
func DefaultValue(id, field string, def any) *FieldTransformation {
	t := NewFieldTransformation(id, "default "+field, field, "", func(v any, _ *pipeline.ExecutionContext) (any, error) {
		if v == nil {
			return def, nil
		}
		return v, nil
	})
	t.AllowMissing = true
	return t
}
