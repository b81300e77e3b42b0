package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EvalOutcome is the raw product of a type evaluator before it is assembled
// into a RuleEvaluationResult.
type EvalOutcome struct {
	Passed   bool
	Findings []EvaluationFinding
	Message  string
}

// TypeEvaluators holds one evaluator per built-in rule kind. Each evaluator
// is pure with respect to its inputs aside from the read performed through
// its collaborator.
type TypeEvaluators struct {
	catalog   CatalogExecutor
	metrics   MetricsSource
	patterns  PatternSource
	workflows WorkflowSource
}

// NewTypeEvaluators wires the built-in evaluators to their collaborators.
func NewTypeEvaluators(catalog CatalogExecutor, metrics MetricsSource, patterns PatternSource, workflows WorkflowSource) *TypeEvaluators {
	return &TypeEvaluators{
		catalog:   catalog,
		metrics:   metrics,
		patterns:  patterns,
		workflows: workflows,
	}
}

// evaluateQuery resolves the config's query id through the catalog and
// compares the returned row against the expected result. Catalog failures,
// including non-whitelisted ids, become failing findings rather than errors:
// a misconfigured catalog reference is itself a compliance gap worth
// reporting, and one rule's query failure must never crash the batch.
func (e *TypeEvaluators) evaluateQuery(ctx context.Context, cfg QueryConfig, ec EvaluationContext) EvalOutcome {
	row, err := e.catalog.ExecuteSafeQuery(ctx, cfg.QueryID, ec.OrganizationID)
	if err != nil {
		return EvalOutcome{
			Passed:  false,
			Message: fmt.Sprintf("Query check failed: %v", err),
			Findings: []EvaluationFinding{{
				Type:        FindingFail,
				Entity:      "query",
				EntityID:    cfg.QueryID,
				Description: err.Error(),
				Remediation: "Verify the rule references a whitelisted catalog query",
			}},
		}
	}

	var passed bool
	var observed string
	switch cfg.ExpectedResult {
	case ExpectZero:
		passed = row.Count == 0
		observed = fmt.Sprintf("count=%d", row.Count)
	case ExpectNonZero:
		passed = row.Count > 0
		observed = fmt.Sprintf("count=%d", row.Count)
	case ExpectBooleanTrue:
		passed = row.Shape == ShapeBoolean && row.Result
		observed = fmt.Sprintf("result=%t", row.Result)
	case ExpectBooleanFalse:
		passed = row.Shape == ShapeBoolean && !row.Result
		observed = fmt.Sprintf("result=%t", row.Result)
	default:
		return EvalOutcome{
			Passed:  false,
			Message: fmt.Sprintf("Unknown expected result %q", cfg.ExpectedResult),
			Findings: []EvaluationFinding{{
				Type:        FindingFail,
				Entity:      "query",
				EntityID:    cfg.QueryID,
				Description: fmt.Sprintf("expected result %q is not one of zero, non_zero, boolean_true, boolean_false", cfg.ExpectedResult),
			}},
		}
	}

	ftype := FindingFail
	if passed {
		ftype = FindingPass
	}
	return EvalOutcome{
		Passed:  passed,
		Message: fmt.Sprintf("Query %s expected %s, observed %s", cfg.QueryID, cfg.ExpectedResult, observed),
		Findings: []EvaluationFinding{{
			Type:        ftype,
			Entity:      "query",
			EntityID:    cfg.QueryID,
			Description: fmt.Sprintf("expected %s, observed %s", cfg.ExpectedResult, observed),
		}},
	}
}

// evaluateThreshold fetches the named metric and applies the configured
// comparison. A metrics source failure is an evaluation error; the caller
// converts it to a failed result without touching statistics.
func (e *TypeEvaluators) evaluateThreshold(ctx context.Context, cfg ThresholdConfig, ec EvaluationContext) (EvalOutcome, error) {
	value, err := e.metrics.GetMetricValue(ctx, cfg.Metric, ec.OrganizationID)
	if err != nil {
		return EvalOutcome{}, fmt.Errorf("fetching metric %s: %w", cfg.Metric, err)
	}

	var passed bool
	var expected string
	switch cfg.Operator {
	case OpGreaterThan:
		passed = value > cfg.Value
		expected = fmt.Sprintf("> %g", cfg.Value)
	case OpGreaterOrEqual:
		passed = value >= cfg.Value
		expected = fmt.Sprintf(">= %g", cfg.Value)
	case OpLessThan:
		passed = value < cfg.Value
		expected = fmt.Sprintf("< %g", cfg.Value)
	case OpLessOrEqual:
		passed = value <= cfg.Value
		expected = fmt.Sprintf("<= %g", cfg.Value)
	case OpEqual:
		passed = value == cfg.Value
		expected = fmt.Sprintf("== %g", cfg.Value)
	case OpBetween:
		// Inclusive on both ends.
		passed = value >= cfg.Bounds[0] && value <= cfg.Bounds[1]
		expected = fmt.Sprintf("in [%g, %g]", cfg.Bounds[0], cfg.Bounds[1])
	default:
		return EvalOutcome{}, fmt.Errorf("unknown threshold operator %q", cfg.Operator)
	}

	ftype := FindingFail
	if passed {
		ftype = FindingPass
	}
	return EvalOutcome{
		Passed:  passed,
		Message: fmt.Sprintf("Metric %s = %g, expected %s", cfg.Metric, value, expected),
		Findings: []EvaluationFinding{{
			Type:        ftype,
			Entity:      "metric",
			EntityID:    cfg.Metric,
			Description: fmt.Sprintf("value %g, expected %s", value, expected),
		}},
	}, nil
}

// evaluatePattern asks the pattern source whether the pattern occurs in
// scope and matches that against shouldExist. The single boolean models both
// required-present and prohibited-absent checks.
func (e *TypeEvaluators) evaluatePattern(ctx context.Context, cfg PatternConfig, ec EvaluationContext) (EvalOutcome, error) {
	found, err := e.patterns.SearchForPattern(ctx, cfg.Pattern, cfg.Scope, ec.OrganizationID)
	if err != nil {
		return EvalOutcome{}, fmt.Errorf("searching pattern %q in %s: %w", cfg.Pattern, cfg.Scope, err)
	}

	passed := found == cfg.ShouldExist
	ftype := FindingFail
	if passed {
		ftype = FindingPass
	}
	verb := "present"
	if !found {
		verb = "absent"
	}
	want := "required"
	if !cfg.ShouldExist {
		want = "prohibited"
	}
	return EvalOutcome{
		Passed:  passed,
		Message: fmt.Sprintf("Pattern %q is %s in %s (%s)", cfg.Pattern, verb, cfg.Scope, want),
		Findings: []EvaluationFinding{{
			Type:        ftype,
			Entity:      "pattern",
			EntityID:    cfg.Scope,
			Description: fmt.Sprintf("pattern %q %s in scope %s, %s by rule", cfg.Pattern, verb, cfg.Scope, want),
		}},
	}, nil
}

// evaluateWorkflow checks every recent execution for required steps,
// approvers, and duration. The rule passes only when every examined
// execution satisfies all checks. An empty execution set passes with an info
// finding; callers should read that as "not yet evaluated" rather than
// "compliant".
func (e *TypeEvaluators) evaluateWorkflow(ctx context.Context, cfg WorkflowConfig, ec EvaluationContext) (EvalOutcome, error) {
	executions, err := e.workflows.GetRecentWorkflowExecutions(ctx, ec.OrganizationID)
	if err != nil {
		return EvalOutcome{}, fmt.Errorf("fetching workflow executions: %w", err)
	}

	if len(executions) == 0 {
		return EvalOutcome{
			Passed:  true,
			Message: "No recent workflow executions available to evaluate",
			Findings: []EvaluationFinding{{
				Type:        FindingInfo,
				Entity:      "workflow",
				Description: "no recent workflow executions; rule has not been exercised",
			}},
		}, nil
	}

	passed := true
	violating := 0
	var findings []EvaluationFinding
	for _, exec := range executions {
		before := len(findings)
		completed := make(map[string]bool, len(exec.CompletedSteps))
		for _, step := range exec.CompletedSteps {
			completed[step] = true
		}
		for _, step := range cfg.RequiredSteps {
			if !completed[step] {
				passed = false
				findings = append(findings, EvaluationFinding{
					Type:        FindingFail,
					Entity:      "workflow",
					EntityID:    exec.ID,
					Description: fmt.Sprintf("required step %q not completed in execution %s", step, exec.Name),
					Remediation: "Complete the missing workflow step or correct the workflow definition",
				})
			}
		}
		for _, approver := range cfg.RequiredApprovers {
			if !approverMatched(exec.Approvers, approver) {
				passed = false
				findings = append(findings, EvaluationFinding{
					Type:        FindingFail,
					Entity:      "workflow",
					EntityID:    exec.ID,
					Description: fmt.Sprintf("required approver %q missing from execution %s", approver, exec.Name),
				})
			}
		}
		if cfg.MaxDurationHours > 0 {
			maxDuration := time.Duration(cfg.MaxDurationHours * float64(time.Hour))
			if exec.Duration() > maxDuration {
				passed = false
				findings = append(findings, EvaluationFinding{
					Type:        FindingFail,
					Entity:      "workflow",
					EntityID:    exec.ID,
					Description: fmt.Sprintf("execution %s took %s, exceeding the %g hour limit", exec.Name, exec.Duration().Round(time.Minute), cfg.MaxDurationHours),
				})
			}
		}
		if len(findings) > before {
			violating++
		}
	}

	message := fmt.Sprintf("All %d recent workflow executions satisfied the rule", len(executions))
	if !passed {
		message = fmt.Sprintf("%d of %d recent workflow executions violated the rule", violating, len(executions))
	} else {
		findings = append(findings, EvaluationFinding{
			Type:        FindingPass,
			Entity:      "workflow",
			Description: fmt.Sprintf("%d executions checked", len(executions)),
		})
	}
	return EvalOutcome{Passed: passed, Findings: findings, Message: message}, nil
}

// approverMatched reports whether a required approver matches any execution
// approver, by exact identity or substring.
func approverMatched(approvers []string, required string) bool {
	for _, a := range approvers {
		if a == required || strings.Contains(a, required) {
			return true
		}
	}
	return false
}
