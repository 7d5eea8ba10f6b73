// Package scoring provides the CEL-based heuristic scorer.
package scoring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	// ErrInvalidRuleSet is wrapped by every rule-set validation failure.
	ErrInvalidRuleSet = errors.New("invalid rule set")

	// ErrNoActiveRuleSet is returned by Score before any rule set is active.
	ErrNoActiveRuleSet = errors.New("no active rule set")
)

// Engine scores applicants against the active rule set.
// The active set can be swapped at any time; each Score call sees exactly one set.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	active *CompiledRuleSet
}

// CompiledRuleSet holds the CEL programs for one rule set.
type CompiledRuleSet struct {
	RuleSet   *domain.RuleSet
	overrides []compiledOverride
	groups    []compiledGroup
}

type compiledOverride struct {
	rule    domain.OverrideRule
	program cel.Program
}

type compiledGroup struct {
	id    string
	rules []compiledRule
}

type compiledRule struct {
	rule    domain.ScoringRule
	program cel.Program
}

// NewEngine creates an engine with no active rule set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("age", cel.IntType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("education", cel.StringType),
		cel.Variable("income", cel.DoubleType),
		cel.Variable("employment_years", cel.IntType),
		cel.Variable("home_ownership", cel.StringType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("loan_intent", cel.StringType),
		cel.Variable("interest_rate", cel.DoubleType),
		cel.Variable("loan_percent_income", cel.DoubleType),
		cel.Variable("credit_history_years", cel.IntType),
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("prior_default", cel.BoolType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// NewDefaultEngine creates an engine with the built-in rule set active.
func NewDefaultEngine() (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.Activate(BuiltinRuleSet()); err != nil {
		return nil, err
	}
	return e, nil
}

// Compile validates a rule set and compiles every expression.
func (e *Engine) Compile(rs *domain.RuleSet) (*CompiledRuleSet, error) {
	if err := checkStructure(rs); err != nil {
		return nil, err
	}

	compiled := &CompiledRuleSet{RuleSet: rs}

	for _, o := range rs.Overrides {
		prg, err := e.compileBool("override "+o.ID, o.Expression)
		if err != nil {
			return nil, err
		}
		compiled.overrides = append(compiled.overrides, compiledOverride{rule: o, program: prg})
	}

	for _, g := range rs.Groups {
		cg := compiledGroup{id: g.ID}
		for _, r := range g.Rules {
			prg, err := e.compileBool("rule "+g.ID+"."+r.ID, r.Expression)
			if err != nil {
				return nil, err
			}
			cg.rules = append(cg.rules, compiledRule{rule: r, program: prg})
		}
		compiled.groups = append(compiled.groups, cg)
	}

	return compiled, nil
}

// Validate compiles a rule set without activating it.
func (e *Engine) Validate(rs *domain.RuleSet) error {
	_, err := e.Compile(rs)
	return err
}

// Activate compiles rs and makes it the active rule set.
// On error the previously active set stays in place.
func (e *Engine) Activate(rs *domain.RuleSet) error {
	compiled, err := e.Compile(rs)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.active = compiled
	e.mu.Unlock()
	return nil
}

// Active returns the active rule set, or nil.
func (e *Engine) Active() *domain.RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return nil
	}
	return e.active.RuleSet
}

// Score evaluates rec against the active rule set.
func (e *Engine) Score(rec domain.ApplicantRecord) (domain.ScoreBreakdown, error) {
	e.mu.RLock()
	active := e.active
	e.mu.RUnlock()

	if active == nil {
		return domain.ScoreBreakdown{}, ErrNoActiveRuleSet
	}
	return active.Score(rec)
}

// Score evaluates rec against this rule set.
//
// Every override is checked; if any holds the result is a forced rejection
// listing all triggered override labels. Otherwise each group contributes
// its first matching rule.
func (c *CompiledRuleSet) Score(rec domain.ApplicantRecord) (domain.ScoreBreakdown, error) {
	vars := activation(rec)
	out := domain.ScoreBreakdown{
		PositiveFactors: []string{},
		NegativeFactors: []string{},
		RuleSetVersion:  c.RuleSet.Version,
	}

	for _, o := range c.overrides {
		hit, err := evalBool(o.program, vars)
		if err != nil {
			return domain.ScoreBreakdown{}, fmt.Errorf("override %s: %w", o.rule.ID, err)
		}
		if hit {
			out.NegativeFactors = append(out.NegativeFactors, o.rule.Label)
		}
	}
	if len(out.NegativeFactors) > 0 {
		out.Score = c.RuleSet.ForcedScore
		out.Overridden = true
		return out, nil
	}

	for _, g := range c.groups {
		for _, r := range g.rules {
			hit, err := evalBool(r.program, vars)
			if err != nil {
				return domain.ScoreBreakdown{}, fmt.Errorf("rule %s.%s: %w", g.id, r.rule.ID, err)
			}
			if !hit {
				continue
			}
			out.Score += r.rule.Weight
			if r.rule.Label != "" {
				switch {
				case r.rule.Weight > 0:
					out.PositiveFactors = append(out.PositiveFactors, r.rule.Label)
				case r.rule.Weight < 0:
					out.NegativeFactors = append(out.NegativeFactors, r.rule.Label)
				}
			}
			break
		}
	}

	return out, nil
}

func (e *Engine) compileBool(name, expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRuleSet, name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: %s: expression must return bool, got %s", ErrInvalidRuleSet, name, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRuleSet, name, err)
	}
	return prg, nil
}

func evalBool(prg cel.Program, vars map[string]any) (bool, error) {
	val, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := val.(types.Bool)
	if !ok {
		return false, fmt.Errorf("expected bool result, got %s", val.Type().TypeName())
	}
	return bool(b), nil
}

func activation(rec domain.ApplicantRecord) map[string]any {
	return map[string]any{
		"age":                  int64(rec.Age),
		"gender":               string(rec.Gender),
		"education":            string(rec.Education),
		"income":               rec.AnnualIncome,
		"employment_years":     int64(rec.EmploymentYears),
		"home_ownership":       string(rec.HomeOwnership),
		"loan_amount":          rec.LoanAmount,
		"loan_intent":          string(rec.LoanIntent),
		"interest_rate":        rec.LoanInterestRate,
		"loan_percent_income":  rec.LoanPercentIncome,
		"credit_history_years": int64(rec.CreditHistoryYears),
		"credit_score":         int64(rec.CreditScore),
		"prior_default":        bool(rec.HasPriorDefault),
	}
}

// checkStructure enforces the shape rules that do not need CEL.
func checkStructure(rs *domain.RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is required", ErrInvalidRuleSet)
	}
	if rs.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidRuleSet)
	}
	if len(rs.Groups) == 0 {
		return fmt.Errorf("%w: at least one signal group is required", ErrInvalidRuleSet)
	}
	if len(rs.Overrides) > 0 && rs.ForcedScore >= 0 {
		return fmt.Errorf("%w: forcedScore must be negative when overrides are defined", ErrInvalidRuleSet)
	}

	overrideIDs := make(map[string]bool, len(rs.Overrides))
	for _, o := range rs.Overrides {
		if o.ID == "" || o.Label == "" {
			return fmt.Errorf("%w: override needs an id and a label", ErrInvalidRuleSet)
		}
		if overrideIDs[o.ID] {
			return fmt.Errorf("%w: duplicate override id %q", ErrInvalidRuleSet, o.ID)
		}
		overrideIDs[o.ID] = true
	}

	groupIDs := make(map[string]bool, len(rs.Groups))
	for _, g := range rs.Groups {
		if g.ID == "" {
			return fmt.Errorf("%w: group id is required", ErrInvalidRuleSet)
		}
		if groupIDs[g.ID] {
			return fmt.Errorf("%w: duplicate group id %q", ErrInvalidRuleSet, g.ID)
		}
		groupIDs[g.ID] = true

		if len(g.Rules) == 0 {
			return fmt.Errorf("%w: group %q has no rules", ErrInvalidRuleSet, g.ID)
		}
		ruleIDs := make(map[string]bool, len(g.Rules))
		for _, r := range g.Rules {
			if r.ID == "" {
				return fmt.Errorf("%w: group %q has a rule without id", ErrInvalidRuleSet, g.ID)
			}
			if ruleIDs[r.ID] {
				return fmt.Errorf("%w: duplicate rule id %q in group %q", ErrInvalidRuleSet, r.ID, g.ID)
			}
			ruleIDs[r.ID] = true
		}
	}
	return nil
}
