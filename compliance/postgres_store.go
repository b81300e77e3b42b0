package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleRepository implements RuleRepository backed by PostgreSQL.
// Rule logic is stored as JSONB; every query scopes by organization id.
type PostgresRuleRepository struct {
	db *sql.DB
}

// NewPostgresRuleRepository creates a PostgreSQL-backed rule repository.
func NewPostgresRuleRepository(db *sql.DB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

const ruleColumns = `id, organization_id, name, framework, category, severity,
	is_active, check_frequency, last_checked_at, pass_count, fail_count,
	rule_logic, created_at, updated_at`

// Add inserts a new rule.
func (s *PostgresRuleRepository) Add(ctx context.Context, rule *ComplianceRule) error {
	logic, err := json.Marshal(rule.RuleLogic)
	if err != nil {
		return fmt.Errorf("failed to encode rule logic: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_rules
			(id, organization_id, name, framework, category, severity,
			 is_active, check_frequency, rule_logic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.OrganizationID, rule.Name, rule.Framework, rule.Category,
		rule.Severity, rule.IsActive, rule.CheckFrequency, logic,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleRepository) Get(ctx context.Context, id string) (*ComplianceRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM compliance_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// Update modifies a rule's definition fields. Statistics columns are owned
// by IncrementStatistics and left untouched.
func (s *PostgresRuleRepository) Update(ctx context.Context, rule *ComplianceRule) error {
	logic, err := json.Marshal(rule.RuleLogic)
	if err != nil {
		return fmt.Errorf("failed to encode rule logic: %w", err)
	}

	rule.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE compliance_rules
		SET name = $1, framework = $2, category = $3, severity = $4,
			is_active = $5, check_frequency = $6, rule_logic = $7, updated_at = $8
		WHERE id = $9
	`, rule.Name, rule.Framework, rule.Category, rule.Severity,
		rule.IsActive, rule.CheckFrequency, logic, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}
	return nil
}

// FindActiveRules returns active rules for the organization matching the
// filters, most severe first, then by name.
func (s *PostgresRuleRepository) FindActiveRules(ctx context.Context, organizationID string, f Filters) ([]*ComplianceRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM compliance_rules
		WHERE organization_id = $1 AND is_active = true`
	args := []any{organizationID}
	if f.Framework != "" {
		args = append(args, f.Framework)
		query += fmt.Sprintf(" AND framework = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.Frequency != "" {
		args = append(args, f.Frequency)
		query += fmt.Sprintf(" AND check_frequency = $%d", len(args))
	}
	query += `
		ORDER BY CASE severity
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// FindDueRules returns active rules never checked, or whose check-frequency
// interval has elapsed relative to now. The predicate lives in SQL so the
// scheduler query stays one round trip.
func (s *PostgresRuleRepository) FindDueRules(ctx context.Context, organizationID string, now time.Time) ([]*ComplianceRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM compliance_rules
		WHERE organization_id = $1 AND is_active = true
		AND (
			last_checked_at IS NULL
			OR (check_frequency = 'hourly'  AND last_checked_at < $2::timestamptz - INTERVAL '1 hour')
			OR (check_frequency = 'daily'   AND last_checked_at < $2::timestamptz - INTERVAL '24 hours')
			OR (check_frequency = 'weekly'  AND last_checked_at < $2::timestamptz - INTERVAL '7 days')
			OR (check_frequency = 'monthly' AND last_checked_at < $2::timestamptz - INTERVAL '30 days')
		)
	`, organizationID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due rules: %w", err)
	}
	defer rows.Close()

	return collectRules(rows)
}

// IncrementStatistics records one evaluation outcome as a single atomic
// UPDATE, so concurrent evaluations never lose increments.
func (s *PostgresRuleRepository) IncrementStatistics(ctx context.Context, ruleID string, passed bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE compliance_rules
		SET pass_count = pass_count + CASE WHEN $2 THEN 1 ELSE 0 END,
			fail_count = fail_count + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_checked_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`, ruleID, passed)
	if err != nil {
		return fmt.Errorf("failed to record statistics: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s not found", ruleID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*ComplianceRule, error) {
	var rule ComplianceRule
	var logic []byte
	var lastChecked sql.NullTime
	err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&rule.Framework,
		&rule.Category,
		&rule.Severity,
		&rule.IsActive,
		&rule.CheckFrequency,
		&lastChecked,
		&rule.PassCount,
		&rule.FailCount,
		&logic,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		rule.LastCheckedAt = &t
	}
	if err := json.Unmarshal(logic, &rule.RuleLogic); err != nil {
		return nil, fmt.Errorf("failed to decode rule logic for %s: %w", rule.ID, err)
	}
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*ComplianceRule, error) {
	var rules []*ComplianceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}
