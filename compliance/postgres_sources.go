package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresMetricsSource reads named metric values from the org_metrics
// table. The latest recorded value wins.
type PostgresMetricsSource struct {
	db *sql.DB
}

// NewPostgresMetricsSource creates a metrics source over the given
// connection.
func NewPostgresMetricsSource(db *sql.DB) *PostgresMetricsSource {
	return &PostgresMetricsSource{db: db}
}

// GetMetricValue returns the most recent value recorded for the metric.
func (s *PostgresMetricsSource) GetMetricValue(ctx context.Context, metric, organizationID string) (float64, error) {
	var value float64
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM org_metrics
		WHERE organization_id = $1 AND metric = $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, organizationID, metric).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("metric %s not recorded for organization", metric)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read metric %s: %w", metric, err)
	}
	return value, nil
}

// PostgresPatternSource searches audit events for a pattern within a scope.
type PostgresPatternSource struct {
	db *sql.DB
}

// NewPostgresPatternSource creates a pattern source over the given
// connection.
func NewPostgresPatternSource(db *sql.DB) *PostgresPatternSource {
	return &PostgresPatternSource{db: db}
}

// SearchForPattern reports whether any audit event in the scope matches the
// pattern. The pattern is bound as a parameter and matched with POSIX
// regular expressions on the database side.
func (s *PostgresPatternSource) SearchForPattern(ctx context.Context, pattern, scope, organizationID string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM audit_events
			WHERE organization_id = $1 AND scope = $2 AND payload ~ $3
		)
	`, organizationID, scope, pattern).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to search pattern in %s: %w", scope, err)
	}
	return found, nil
}

// PostgresWorkflowSource lists recent workflow executions, bounded to the
// last ninety days.
type PostgresWorkflowSource struct {
	db *sql.DB
}

// NewPostgresWorkflowSource creates a workflow source over the given
// connection.
func NewPostgresWorkflowSource(db *sql.DB) *PostgresWorkflowSource {
	return &PostgresWorkflowSource{db: db}
}

// GetRecentWorkflowExecutions returns completed executions from the last
// ninety days, newest first.
func (s *PostgresWorkflowSource) GetRecentWorkflowExecutions(ctx context.Context, organizationID string) ([]WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, completed_steps, approvers, started_at, completed_at
		FROM workflow_executions
		WHERE organization_id = $1
		AND completed_at > NOW() - INTERVAL '90 days'
		ORDER BY completed_at DESC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow executions: %w", err)
	}
	defer rows.Close()

	var executions []WorkflowExecution
	for rows.Next() {
		var exec WorkflowExecution
		var steps, approvers []byte
		if err := rows.Scan(&exec.ID, &exec.Name, &steps, &approvers,
			&exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow execution: %w", err)
		}
		if err := unmarshalStringList(steps, &exec.CompletedSteps); err != nil {
			return nil, fmt.Errorf("invalid completed_steps for execution %s: %w", exec.ID, err)
		}
		if err := unmarshalStringList(approvers, &exec.Approvers); err != nil {
			return nil, fmt.Errorf("invalid approvers for execution %s: %w", exec.ID, err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow executions: %w", err)
	}
	return executions, nil
}

func unmarshalStringList(data []byte, into *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, into)
}
