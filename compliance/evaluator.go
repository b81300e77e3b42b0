package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opencomply/engine/internal/logger"
)

// RuleEvaluator evaluates exactly one rule end to end: exception filtering,
// dispatch to the matching type or custom evaluator, statistics mutation,
// and result assembly.
type RuleEvaluator struct {
	repo     RuleRepository
	types    *TypeEvaluators
	registry *EvaluatorRegistry
	metrics  *Metrics
}

// NewRuleEvaluator wires the per-rule evaluator. metrics may be nil.
func NewRuleEvaluator(repo RuleRepository, types *TypeEvaluators, registry *EvaluatorRegistry, metrics *Metrics) *RuleEvaluator {
	return &RuleEvaluator{
		repo:     repo,
		types:    types,
		registry: registry,
		metrics:  metrics,
	}
}

// EvaluateRule evaluates a single rule. Inactive rules return immediately
// without touching statistics. Evaluator errors degrade to a failed result
// with a descriptive finding and also skip statistics: an evaluation that
// errored is not evidence the underlying control failed.
func (e *RuleEvaluator) EvaluateRule(ctx context.Context, rule *ComplianceRule, ec EvaluationContext) *RuleEvaluationResult {
	start := time.Now()
	result := &RuleEvaluationResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Framework:   rule.Framework,
		Category:    rule.Category,
		Severity:    rule.Severity,
		EvaluatedAt: ec.EvaluationTime,
	}

	if !rule.IsActive {
		result.Passed = false
		result.Details.Message = "Rule is inactive"
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		return result
	}

	// Exceptions are advisory annotations: recorded on the result, never a
	// reason to flip the outcome.
	for _, exc := range rule.RuleLogic.Exceptions {
		if exc.ActiveAt(ec.EvaluationTime) {
			result.Details.Exceptions = append(result.Details.Exceptions, exc.Reason)
		}
	}

	outcome, err := e.dispatch(ctx, rule, ec)
	if err != nil {
		evalErr := &EvaluationError{RuleID: rule.ID, Err: err}
		logger.ErrorEvaluation("rule evaluation errored",
			"ruleId", rule.ID,
			"ruleName", rule.Name,
			"error", err)
		result.Passed = false
		result.Details.Message = fmt.Sprintf("Evaluation error: %v", err)
		result.Details.Findings = []EvaluationFinding{{
			Type:        FindingFail,
			Entity:      "rule",
			EntityID:    rule.ID,
			Description: evalErr.Error(),
		}}
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		e.metrics.observeEvaluation(rule.Framework, false, time.Since(start).Seconds())
		return result
	}

	result.Passed = outcome.Passed
	result.Details.Message = outcome.Message
	result.Details.Findings = outcome.Findings

	if !ec.DryRun {
		if perr := e.repo.IncrementStatistics(ctx, rule.ID, outcome.Passed); perr != nil {
			// The evaluation stands even when it could not be recorded.
			e.metrics.observePersistenceFailure()
			logger.ErrorPersistence(&PersistenceError{RuleID: rule.ID, Err: perr})
		}
	}

	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	e.metrics.observeEvaluation(rule.Framework, outcome.Passed, time.Since(start).Seconds())
	return result
}

// dispatch routes a rule to its evaluator based on the config variant. The
// switch is exhaustive over the closed RuleConfig set.
func (e *RuleEvaluator) dispatch(ctx context.Context, rule *ComplianceRule, ec EvaluationContext) (EvalOutcome, error) {
	switch cfg := rule.RuleLogic.Config.(type) {
	case QueryConfig:
		return e.types.evaluateQuery(ctx, cfg, ec), nil
	case ThresholdConfig:
		return e.types.evaluateThreshold(ctx, cfg, ec)
	case PatternConfig:
		return e.types.evaluatePattern(ctx, cfg, ec)
	case WorkflowConfig:
		return e.types.evaluateWorkflow(ctx, cfg, ec)
	case CustomConfig:
		return e.dispatchCustom(ctx, cfg, ec)
	case nil:
		return EvalOutcome{}, errors.New("rule has no logic config")
	default:
		return EvalOutcome{}, fmt.Errorf("unsupported rule config kind %q", rule.RuleLogic.Config.Kind())
	}
}

// dispatchCustom looks up the named evaluator. A missing registration is a
// configuration gap reported as a failing finding, not an error that aborts
// the batch.
func (e *RuleEvaluator) dispatchCustom(ctx context.Context, cfg CustomConfig, ec EvaluationContext) (EvalOutcome, error) {
	fn, ok := e.registry.Lookup(cfg.EvaluatorName)
	if !ok {
		missing := &UnregisteredEvaluatorError{Name: cfg.EvaluatorName}
		return EvalOutcome{
			Passed:  false,
			Message: missing.Error(),
			Findings: []EvaluationFinding{{
				Type:        FindingFail,
				Entity:      "evaluator",
				EntityID:    cfg.EvaluatorName,
				Description: missing.Error(),
				Remediation: "Register the evaluator at startup or fix the rule's evaluatorName",
			}},
		}, nil
	}
	return fn(ctx, cfg, ec)
}
