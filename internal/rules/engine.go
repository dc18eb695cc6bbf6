// Package rules provides the CEL-Go based risk rule engine.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates risk rules over loan applications.
// Rules keep the order they were loaded in and results follow that order.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RiskRule
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}

	// Create CEL environment with application variables
	env, err := cel.NewEnv(
		cel.Variable(domain.FieldAge, cel.IntType),
		cel.Variable(domain.FieldGender, cel.StringType),
		cel.Variable(domain.FieldEducation, cel.StringType),
		cel.Variable(domain.FieldIncome, cel.DoubleType),
		cel.Variable(domain.FieldEmpExp, cel.IntType),
		cel.Variable(domain.FieldHomeOwnership, cel.StringType),
		cel.Variable(domain.FieldLoanAmount, cel.DoubleType),
		cel.Variable(domain.FieldLoanIntent, cel.StringType),
		cel.Variable(domain.FieldLoanPercentIncome, cel.DoubleType),
		cel.Variable(domain.FieldCreditHistoryLength, cel.IntType),
		cel.Variable(domain.FieldCreditScore, cel.IntType),
		cel.Variable(domain.FieldPreviousDefaults, cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// NewDefaultEngine creates an engine loaded with BuiltinRules.
func NewDefaultEngine() (*Engine, error) {
	e, err := NewEngine(0)
	if err != nil {
		return nil, err
	}
	if err := e.LoadRules(BuiltinRules()); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadRule compiles and appends a rule. A rule with an already loaded ID
// replaces it in place.
func (e *Engine) LoadRule(cfg *domain.RiskRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	for i, r := range e.rules {
		if r.Config.ID == cfg.ID {
			e.rules[i] = compiled
			return nil
		}
	}
	e.rules = append(e.rules, compiled)

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RiskRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Activation builds the CEL variables for an application.
func Activation(app *domain.Application) map[string]any {
	return map[string]any{
		domain.FieldAge:                 int64(app.PersonAge),
		domain.FieldGender:              app.PersonGender,
		domain.FieldEducation:           app.PersonEducation,
		domain.FieldIncome:              app.PersonIncome,
		domain.FieldEmpExp:              int64(app.PersonEmpExp),
		domain.FieldHomeOwnership:       app.PersonHomeOwnership,
		domain.FieldLoanAmount:          app.LoanAmount,
		domain.FieldLoanIntent:          app.LoanIntent,
		domain.FieldLoanPercentIncome:   app.LoanPercentIncome(),
		domain.FieldCreditHistoryLength: int64(app.CreditHistoryLength),
		domain.FieldCreditScore:         int64(app.CreditScore),
		domain.FieldPreviousDefaults:    app.PreviousLoanDefaultsOnFile,
	}
}

// EvaluateAll evaluates all loaded rules and returns one result per rule in
// load order.
func (e *Engine) EvaluateAll(ctx context.Context, app *domain.Application) ([]domain.RiskResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := Activation(app)

	// Parallel evaluation; each result lands in its rule's slot
	results := make([]domain.RiskResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// RiskFactors returns the reasons of the triggered rules in load order.
func (e *Engine) RiskFactors(ctx context.Context, app *domain.Application) ([]string, error) {
	results, err := e.EvaluateAll(ctx, app)
	if err != nil {
		return nil, err
	}

	factors := []string{}
	for _, r := range results {
		if r.Error != "" {
			return nil, fmt.Errorf("rule %s: %s", r.RuleID, r.Error)
		}
		if r.Triggered {
			factors = append(factors, r.Reason)
		}
	}
	return factors, nil
}

// evaluateRule evaluates a single rule and returns the result.
func evaluateRule(rule *CompiledRule, activation map[string]any) domain.RiskResult {
	result := domain.RiskResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	if b, ok := out.(types.Bool); ok && bool(b) {
		result.Triggered = true
		result.Reason = rule.Config.Reason
	}
	return result
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the currently loaded rule configurations in order.
func (e *Engine) GetLoadedRules() []*domain.RiskRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RiskRule, 0, len(e.rules))
	for _, compiled := range e.rules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RiskRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
