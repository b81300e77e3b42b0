package compliance

import "context"

// MetricsSource provides named metric values for threshold rules. Implemented
// outside the engine; the engine only reads through it.
type MetricsSource interface {
	GetMetricValue(ctx context.Context, metric, organizationID string) (float64, error)
}

// PatternSource answers whether a pattern occurs within a scope for pattern
// rules.
type PatternSource interface {
	SearchForPattern(ctx context.Context, pattern, scope, organizationID string) (bool, error)
}

// WorkflowSource lists recent workflow executions for workflow rules.
type WorkflowSource interface {
	GetRecentWorkflowExecutions(ctx context.Context, organizationID string) ([]WorkflowExecution, error)
}
