package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/refinery-etl/refinery/internal/record"
)

// Operator identifies a condition comparison.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessThan       Operator = "less_than"
	OpLessOrEqual    Operator = "less_or_equal"
	OpContains       Operator = "contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpMatches        Operator = "matches"
	OpIsNullOrEmpty  Operator = "is_null_or_empty"
	OpNotNullOrEmpty Operator = "is_not_null_or_empty"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
)

// Condition compares one record field against a reference value. Conditions
// on the same rule are AND-combined.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// NewCondition builds a condition.
func NewCondition(field string, op Operator, value any) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// Validate checks the condition shape.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition: field name is required")
	}
	switch c.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterOrEqual, OpLessThan,
		OpLessOrEqual, OpContains, OpStartsWith, OpEndsWith, OpMatches,
		OpIsNullOrEmpty, OpNotNullOrEmpty, OpIn, OpNotIn:
	default:
		return fmt.Errorf("condition on %q: unknown operator %q", c.Field, c.Operator)
	}
	if c.Operator == OpMatches {
		pattern, err := cast.ToStringE(c.Value)
		if err != nil {
			return fmt.Errorf("condition on %q: pattern must be a string: %w", c.Field, err)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("condition on %q: invalid pattern: %w", c.Field, err)
		}
	}
	return nil
}

// Evaluate reports whether the condition holds for the record. A missing
// field evaluates as null: null matches only equality with null, the
// null-or-empty check, or exclusion from a non-null list.
func (c Condition) Evaluate(rec *record.Record) (bool, error) {
	value := rec.Value(c.Field)

	switch c.Operator {
	case OpIsNullOrEmpty:
		return isNullOrEmpty(value), nil
	case OpNotNullOrEmpty:
		return !isNullOrEmpty(value), nil
	case OpEquals:
		return compareEqual(value, c.Value), nil
	case OpNotEquals:
		return !compareEqual(value, c.Value), nil
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		if value == nil || c.Value == nil {
			return false, nil
		}
		ord, err := compareOrder(value, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case OpGreaterThan:
			return ord > 0, nil
		case OpGreaterOrEqual:
			return ord >= 0, nil
		case OpLessThan:
			return ord < 0, nil
		default:
			return ord <= 0, nil
		}
	case OpContains, OpStartsWith, OpEndsWith:
		if value == nil {
			return false, nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return false, err
		}
		needle, err := cast.ToStringE(c.Value)
		if err != nil {
			return false, err
		}
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, needle), nil
		case OpStartsWith:
			return strings.HasPrefix(s, needle), nil
		default:
			return strings.HasSuffix(s, needle), nil
		}
	case OpMatches:
		if value == nil {
			return false, nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return false, err
		}
		pattern, err := cast.ToStringE(c.Value)
		if err != nil {
			return false, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("condition on %q: invalid pattern: %w", c.Field, err)
		}
		return re.MatchString(s), nil
	case OpIn:
		members, err := membership(c.Value)
		if err != nil {
			return false, err
		}
		for _, m := range members {
			if compareEqual(value, m) {
				return true, nil
			}
		}
		return false, nil
	case OpNotIn:
		members, err := membership(c.Value)
		if err != nil {
			return false, err
		}
		for _, m := range members {
			if compareEqual(value, m) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("condition on %q: unknown operator %q", c.Field, c.Operator)
	}
}

func isNullOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// compareEqual tests equality under numeric promotion, then timestamp
// promotion, then string comparison.
func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ord, err := compareOrder(a, b); err == nil {
		return ord == 0
	}
	as, aerr := cast.ToStringE(a)
	bs, berr := cast.ToStringE(b)
	if aerr == nil && berr == nil {
		return as == bs
	}
	return false
}

// compareOrder returns -1, 0 or 1 under the promotion ladder: decimal first,
// timestamps second, ordinal strings last.
func compareOrder(a, b any) (int, error) {
	if ad, ok := toDecimal(a); ok {
		if bd, ok := toDecimal(b); ok {
			return ad.Cmp(bd), nil
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			switch {
			case at.Before(bt):
				return -1, nil
			case at.After(bt):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	as, aerr := cast.ToStringE(a)
	bs, berr := cast.ToStringE(b)
	if aerr != nil || berr != nil {
		return 0, fmt.Errorf("values %v and %v are not comparable", a, b)
	}
	return strings.Compare(as, bs), nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat(float64(n)), true
	case float64:
		return decimal.NewFromFloat(n), true
	case decimal.Decimal:
		return n, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// membership expands an in/not_in reference into its members. Accepts a
// slice or a comma-separated string.
func membership(v any) ([]any, error) {
	switch m := v.(type) {
	case nil:
		return nil, fmt.Errorf("in/not_in requires a list value")
	case []any:
		return m, nil
	case []string:
		out := make([]any, len(m))
		for i, s := range m {
			out[i] = s
		}
		return out, nil
	case string:
		parts := strings.Split(m, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("in/not_in requires a list or comma-separated string, got %T", v)
	}
}
