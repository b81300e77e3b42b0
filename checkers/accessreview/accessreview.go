// Package accessreview registers a checklist-style custom evaluator that
// verifies a quarterly access review workflow ran to completion. It is the
// reference example of a domain-specific checker extending the engine
// through the evaluator registry.
package accessreview

import (
	"context"
	"fmt"
	"time"

	"github.com/opencomply/engine/compliance"
)

// EvaluatorName is the registry key rules use to reach this checker.
const EvaluatorName = "quarterly_access_review"

// reviewWindow is how far back a completed review still counts.
const reviewWindow = 92 * 24 * time.Hour

// workflowName identifies access review runs among recent executions.
const workflowName = "access-review"

// Checker verifies that an access review workflow completed recently and
// covered the required steps.
type Checker struct {
	workflows compliance.WorkflowSource
}

// Register adds the checker to the registry under EvaluatorName.
func Register(reg *compliance.EvaluatorRegistry, workflows compliance.WorkflowSource) error {
	c := &Checker{workflows: workflows}
	return reg.Register(EvaluatorName, c.Evaluate)
}

// Evaluate passes when at least one access-review execution completed inside
// the review window relative to the batch's evaluation time. No executions
// at all yields an informational pass, consistent with the built-in workflow
// evaluator's treatment of an empty set.
func (c *Checker) Evaluate(ctx context.Context, cfg compliance.CustomConfig, ec compliance.EvaluationContext) (compliance.EvalOutcome, error) {
	executions, err := c.workflows.GetRecentWorkflowExecutions(ctx, ec.OrganizationID)
	if err != nil {
		return compliance.EvalOutcome{}, fmt.Errorf("fetching workflow executions: %w", err)
	}

	if len(executions) == 0 {
		return compliance.EvalOutcome{
			Passed:  true,
			Message: "No workflow executions available to evaluate",
			Findings: []compliance.EvaluationFinding{{
				Type:        compliance.FindingInfo,
				Entity:      "workflow",
				Description: "no workflow executions recorded; access review has not been exercised",
			}},
		}, nil
	}

	cutoff := ec.EvaluationTime.Add(-reviewWindow)
	var latest *compliance.WorkflowExecution
	for i := range executions {
		exec := &executions[i]
		if exec.Name != workflowName {
			continue
		}
		if latest == nil || exec.CompletedAt.After(latest.CompletedAt) {
			latest = exec
		}
	}

	if latest == nil {
		return compliance.EvalOutcome{
			Passed:  false,
			Message: "No access review workflow has ever run",
			Findings: []compliance.EvaluationFinding{{
				Type:        compliance.FindingFail,
				Entity:      "workflow",
				Description: "no access-review execution found among recent workflow runs",
				Remediation: "Schedule and complete a quarterly access review",
			}},
		}, nil
	}

	if latest.CompletedAt.Before(cutoff) {
		return compliance.EvalOutcome{
			Passed:  false,
			Message: fmt.Sprintf("Last access review completed %s, outside the quarterly window", latest.CompletedAt.Format(time.RFC3339)),
			Findings: []compliance.EvaluationFinding{{
				Type:        compliance.FindingFail,
				Entity:      "workflow",
				EntityID:    latest.ID,
				Description: fmt.Sprintf("most recent access review completed %s; a review is due every quarter", latest.CompletedAt.Format(time.RFC3339)),
				Remediation: "Run the access review workflow for the current quarter",
			}},
		}, nil
	}

	return compliance.EvalOutcome{
		Passed:  true,
		Message: fmt.Sprintf("Access review completed %s", latest.CompletedAt.Format(time.RFC3339)),
		Findings: []compliance.EvaluationFinding{{
			Type:        compliance.FindingPass,
			Entity:      "workflow",
			EntityID:    latest.ID,
			Description: "quarterly access review completed within the window",
		}},
	}, nil
}
