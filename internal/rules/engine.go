package rules

import (
	"fmt"
	"sort"

	"github.com/refinery-etl/refinery/internal/logger"
	"github.com/refinery-etl/refinery/internal/pipeline"
	"github.com/refinery-etl/refinery/internal/record"
	"github.com/refinery-etl/refinery/internal/transform"
)

// AppliedRulesProperty is the context property accumulating the ids of rules
// that fired, in application order.
const AppliedRulesProperty = "AppliedRules"

// Engine evaluates rules against records in descending priority order. It
// implements the transformation contract so rule sets compose into
// transformation stages.
type Engine struct {
	id     string
	name   string
	rules  []*Rule
	logger *logger.Logger
}

// NewEngine builds a rule engine.
func NewEngine(id, name string, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{id: id, name: name, logger: log}
}

func (e *Engine) ID() string          { return e.id }
func (e *Engine) Name() string        { return e.name }
func (e *Engine) Description() string { return "declarative rule engine" }
func (e *Engine) Type() transform.Type {
	return transform.TypeRecord
}

// SupportsParallel is false: rule actions may carry stateful custom
// functions.
func (e *Engine) SupportsParallel() bool { return false }

// AddRule registers a rule. Order of registration breaks priority ties.
func (e *Engine) AddRule(rule *Rule) *Engine {
	e.rules = append(e.rules, rule)
	return e
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []*Rule {
	ordered := append([]*Rule(nil), e.rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}

// Validate checks every registered rule.
func (e *Engine) Validate(*pipeline.ExecutionContext) error {
	for _, r := range e.rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Transform evaluates the rule set against one record. Matching rules apply
// their actions in order, each action advancing the current record; the
// final record is the result output. Action failures are recorded with the
// rule id as error code and do not abort the record unless stop-processing
// was issued.
func (e *Engine) Transform(rec *record.Record, ctx *pipeline.ExecutionContext) *transform.Result {
	current := rec
	var applied []string
	var errs []pipeline.ExecutionError

rules:
	for _, rule := range e.Rules() {
		if !rule.Enabled {
			continue
		}
		matched, err := rule.Matches(current)
		if err != nil {
			errs = append(errs, pipeline.NewExecutionError(rule.ID, e.name, err.Error(), err))
			continue
		}
		if !matched {
			continue
		}

		applied = append(applied, rule.ID)
		ctx.AppendProperty(AppliedRulesProperty, rule.ID)
		e.logger.Debugf("rule %s matched record", rule.ID)

		for _, action := range rule.Actions {
			outcome, err := action.Apply(current, ctx)
			if err != nil {
				errs = append(errs, pipeline.NewExecutionError(rule.ID, e.name,
					fmt.Sprintf("action %s: %v", action.Name(), err), err))
				continue
			}
			if outcome.Skip {
				res := transform.Drop(rec, e.id, outcome.SkipReason)
				res.AppliedTransforms = applied
				return res
			}
			if outcome.Record != nil {
				current = outcome.Record
			}
			if outcome.Stop {
				break rules
			}
		}
	}

	if len(errs) > 0 {
		res := transform.Failed(rec, errs...)
		res.Output = current
		res.AppliedTransforms = applied
		return res
	}

	res := transform.Succeeded(rec, current, e.id)
	res.AppliedTransforms = applied
	return res
}

// TransformBatch evaluates the rule set record by record.
func (e *Engine) TransformBatch(recs []*record.Record, ctx *pipeline.ExecutionContext) []*transform.Result {
	results := make([]*transform.Result, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			results = append(results, transform.Cancelled(rec, e.id, err))
			continue
		}
		results = append(results, e.Transform(rec, ctx))
	}
	return results
}

// Metadata describes the engine and its rule set.
func (e *Engine) Metadata() transform.Metadata {
	ids := make([]string, 0, len(e.rules))
	for _, r := range e.Rules() {
		ids = append(ids, r.ID)
	}
	return transform.Metadata{
		ID:          e.id,
		Name:        e.name,
		Description: e.Description(),
		Type:        transform.TypeRecord,
		Properties:  map[string]any{"rules": ids},
	}
}
