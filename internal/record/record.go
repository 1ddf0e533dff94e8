package record

import (
	"time"

	"github.com/spf13/cast"
)

// Record is an ordered, case-sensitive mapping from field names to values.
// Supported value kinds: string, int64, float64, bool, time.Time,
// time.Duration, nil, and nested []any sequences. Values written through Set
// are normalised to those kinds.
//
// Records flowing between pipeline stages are treated as effectively
// immutable: transformations clone before mutating.
type Record struct {
	fields map[string]any
	order  []string
}

// New creates an empty record.
func New() *Record {
	return &Record{fields: make(map[string]any)}
}

// FromMap builds a record from a map. Field order follows the supplied key
// slice; keys absent from the map are ignored.
func FromMap(values map[string]any, order ...string) *Record {
	r := New()
	if len(order) > 0 {
		for _, name := range order {
			if v, ok := values[name]; ok {
				r.Set(name, v)
			}
		}
		return r
	}
	for name, v := range values {
		r.Set(name, v)
	}
	return r
}

// Set stores a value under the given field name and returns the record for
// chaining. Setting an existing field keeps its original position.
func (r *Record) Set(name string, value any) *Record {
	if _, exists := r.fields[name]; !exists {
		r.order = append(r.order, name)
	}
	r.fields[name] = normalise(value)
	return r
}

// Get returns the value stored under name and whether the field exists.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Value returns the field value, or nil when the field is missing.
func (r *Record) Value(name string) any {
	return r.fields[name]
}

// Has reports whether the field exists.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Remove deletes a field and reports whether it existed.
func (r *Record) Remove(name string) bool {
	if _, ok := r.fields[name]; !ok {
		return false
	}
	delete(r.fields, name)
	for i, existing := range r.order {
		if existing == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// FieldNames returns field names in insertion order.
func (r *Record) FieldNames() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Clone returns a deep copy sharing no mutable state with the original.
func (r *Record) Clone() *Record {
	clone := &Record{
		fields: make(map[string]any, len(r.fields)),
		order:  append([]string(nil), r.order...),
	}
	for name, v := range r.fields {
		clone.fields[name] = cloneValue(v)
	}
	return clone
}

// Equal reports structural equality: same fields in the same order with
// equal values.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.order) != len(other.order) {
		return false
	}
	for i, name := range r.order {
		if other.order[i] != name {
			return false
		}
		if !valueEqual(r.fields[name], other.fields[name]) {
			return false
		}
	}
	return true
}

// ToMap returns a shallow map view of the record. Nested sequences are
// cloned so callers cannot mutate record state through the map.
func (r *Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.fields))
	for name, v := range r.fields {
		out[name] = cloneValue(v)
	}
	return out
}

// String returns the field coerced to a string.
func (r *Record) String(name string) (string, error) {
	return cast.ToStringE(r.fields[name])
}

// Int returns the field coerced to an int64.
func (r *Record) Int(name string) (int64, error) {
	return cast.ToInt64E(r.fields[name])
}

// Float returns the field coerced to a float64.
func (r *Record) Float(name string) (float64, error) {
	return cast.ToFloat64E(r.fields[name])
}

// Bool returns the field coerced to a bool.
func (r *Record) Bool(name string) (bool, error) {
	return cast.ToBoolE(r.fields[name])
}

// Time returns the field coerced to a time.Time.
func (r *Record) Time(name string) (time.Time, error) {
	return cast.ToTimeE(r.fields[name])
}

// Duration returns the field coerced to a time.Duration.
func (r *Record) Duration(name string) (time.Duration, error) {
	return cast.ToDurationE(r.fields[name])
}

func normalise(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool, time.Time, time.Duration:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case []any:
		seq := make([]any, len(val))
		for i, item := range val {
			seq[i] = normalise(item)
		}
		return seq
	case []string:
		seq := make([]any, len(val))
		for i, item := range val {
			seq[i] = item
		}
		return seq
	default:
		return val
	}
}

func cloneValue(v any) any {
	seq, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(seq))
	for i, item := range seq {
		out[i] = cloneValue(item)
	}
	return out
}

func valueEqual(a, b any) bool {
	seqA, okA := a.([]any)
	seqB, okB := b.([]any)
	if okA || okB {
		if !okA || !okB || len(seqA) != len(seqB) {
			return false
		}
		for i := range seqA {
			if !valueEqual(seqA[i], seqB[i]) {
				return false
			}
		}
		return true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
