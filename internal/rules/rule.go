package rules

import (
	"fmt"

	"github.com/refinery-etl/refinery/internal/record"
)

// Rule pairs AND-combined conditions with an ordered action list. Higher
// priority rules run first.
type Rule struct {
	ID          string
	Name        string
	Description string
	Priority    int
	Enabled     bool
	Conditions  []Condition
	Actions     []Action
}

// NewRule builds an enabled rule.
func NewRule(id, name string, priority int) *Rule {
	return &Rule{ID: id, Name: name, Priority: priority, Enabled: true}
}

// When appends a condition and returns the rule for chaining.
func (r *Rule) When(field string, op Operator, value any) *Rule {
	r.Conditions = append(r.Conditions, NewCondition(field, op, value))
	return r
}

// Then appends an action and returns the rule for chaining.
func (r *Rule) Then(action Action) *Rule {
	r.Actions = append(r.Actions, action)
	return r
}

// Validate checks the rule shape. A rule with no actions is invalid; a rule
// with no conditions matches every record.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %s: at least one action is required", r.ID)
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// Matches reports whether every condition holds for the record.
func (r *Rule) Matches(rec *record.Record) (bool, error) {
	for _, c := range r.Conditions {
		ok, err := c.Evaluate(rec)
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
