// Package expr registers a CEL-backed custom evaluator. Rules reference it
// with evaluatorName "cel_expression" and carry the expression in params;
// the expression evaluates over an Org activation supplied by a facts
// provider. This keeps bespoke one-off checks out of the engine core while
// staying inside the safe-query boundary: expressions see facts, never the
// data store.
package expr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/opencomply/engine/compliance"
)

// EvaluatorName is the registry key rules use to reach this checker.
const EvaluatorName = "cel_expression"

// FactsProvider supplies the fact map an expression evaluates over.
type FactsProvider interface {
	OrganizationFacts(ctx context.Context, organizationID string) (map[string]any, error)
}

// Checker compiles and evaluates CEL expressions, caching compiled programs
// per expression.
type Checker struct {
	env      *cel.Env
	facts    FactsProvider
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// New creates a checker with a CEL environment exposing the Org fact object.
func New(facts FactsProvider) (*Checker, error) {
	env, err := cel.NewEnv(
		cel.Variable("Org", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Checker{
		env:      env,
		facts:    facts,
		programs: make(map[string]cel.Program),
	}, nil
}

// Register adds the checker to the registry under EvaluatorName.
func Register(reg *compliance.EvaluatorRegistry, facts FactsProvider) error {
	checker, err := New(facts)
	if err != nil {
		return err
	}
	return reg.Register(EvaluatorName, checker.Evaluate)
}

// Evaluate runs the rule's expression over the organization's facts. A
// missing or non-compiling expression is a rule configuration gap reported
// as a failing finding; a facts-provider failure is an evaluation error.
func (c *Checker) Evaluate(ctx context.Context, cfg compliance.CustomConfig, ec compliance.EvaluationContext) (compliance.EvalOutcome, error) {
	expression, _ := cfg.Params["expression"].(string)
	if expression == "" {
		return configFailure(cfg.EvaluatorName, "rule params are missing a CEL expression"), nil
	}

	prog, err := c.program(expression)
	if err != nil {
		return configFailure(cfg.EvaluatorName, fmt.Sprintf("expression does not compile: %v", err)), nil
	}

	facts, err := c.facts.OrganizationFacts(ctx, ec.OrganizationID)
	if err != nil {
		return compliance.EvalOutcome{}, fmt.Errorf("fetching organization facts: %w", err)
	}

	out, _, err := prog.Eval(map[string]any{"Org": facts})
	if err != nil {
		return compliance.EvalOutcome{}, fmt.Errorf("evaluating expression: %w", err)
	}

	// Non-boolean results are treated as false.
	passed := false
	if b, ok := out.Value().(bool); ok {
		passed = b
	}

	ftype := compliance.FindingFail
	if passed {
		ftype = compliance.FindingPass
	}
	return compliance.EvalOutcome{
		Passed:  passed,
		Message: fmt.Sprintf("Expression %q evaluated to %t", expression, passed),
		Findings: []compliance.EvaluationFinding{{
			Type:        ftype,
			Entity:      "expression",
			Description: fmt.Sprintf("%q evaluated to %t against organization facts", expression, passed),
		}},
	}, nil
}

// program returns the compiled program for an expression, compiling and
// caching on first use. The cost limit bounds runaway expressions.
func (c *Checker) program(expression string) (cel.Program, error) {
	c.mu.RLock()
	prog, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := c.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = prog
	c.mu.Unlock()
	return prog, nil
}

func configFailure(name, description string) compliance.EvalOutcome {
	return compliance.EvalOutcome{
		Passed:  false,
		Message: description,
		Findings: []compliance.EvaluationFinding{{
			Type:        compliance.FindingFail,
			Entity:      "evaluator",
			EntityID:    name,
			Description: description,
			Remediation: "Fix the rule's expression parameter",
		}},
	}
}
