package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// QueryShape is the row shape a catalog query produces.
type QueryShape int

const (
	// ShapeCount queries return a single {count} row.
	ShapeCount QueryShape = iota
	// ShapeBoolean queries return a single {result} row.
	ShapeBoolean
)

// SafeQuery is one whitelisted, parameter-bound read query. The organization
// id is always bound as $1; query text is never assembled from rule input.
type SafeQuery struct {
	Template    string
	Description string
	Shape       QueryShape
}

// safeQueryCatalog is the complete set of queries a query-type rule may
// invoke. The map is immutable after compilation, so lookups need no
// synchronization. Adding a check means adding an entry here; there is no
// code path that accepts free-form query text.
var safeQueryCatalog = map[string]SafeQuery{
	"count_users_without_mfa": {
		Template: `SELECT COUNT(*) FROM org_users
			WHERE organization_id = $1 AND mfa_enabled = false AND deactivated_at IS NULL`,
		Description: "Number of active users without multi-factor authentication",
		Shape:       ShapeCount,
	},
	"count_stale_access_reviews": {
		Template: `SELECT COUNT(*) FROM access_reviews
			WHERE organization_id = $1 AND completed_at < NOW() - INTERVAL '90 days'`,
		Description: "Access reviews older than ninety days",
		Shape:       ShapeCount,
	},
	"count_unencrypted_data_stores": {
		Template: `SELECT COUNT(*) FROM data_stores
			WHERE organization_id = $1 AND encrypted_at_rest = false`,
		Description: "Data stores without encryption at rest",
		Shape:       ShapeCount,
	},
	"count_expired_vendor_assessments": {
		Template: `SELECT COUNT(*) FROM vendor_assessments
			WHERE organization_id = $1 AND expires_at < NOW()`,
		Description: "Vendor security assessments past their expiry date",
		Shape:       ShapeCount,
	},
	"count_admins_without_recent_login": {
		Template: `SELECT COUNT(*) FROM org_users
			WHERE organization_id = $1 AND role = 'admin'
			AND (last_login_at IS NULL OR last_login_at < NOW() - INTERVAL '30 days')`,
		Description: "Administrator accounts with no login in the last thirty days",
		Shape:       ShapeCount,
	},
	"count_open_critical_incidents": {
		Template: `SELECT COUNT(*) FROM incidents
			WHERE organization_id = $1 AND severity = 'critical' AND resolved_at IS NULL`,
		Description: "Unresolved critical incidents",
		Shape:       ShapeCount,
	},
	"count_overdue_training_completions": {
		Template: `SELECT COUNT(*) FROM training_assignments
			WHERE organization_id = $1 AND due_at < NOW() AND completed_at IS NULL`,
		Description: "Mandatory training assignments past their due date",
		Shape:       ShapeCount,
	},
	"audit_logging_enabled": {
		Template: `SELECT COALESCE(bool_and(audit_logging), false) FROM org_settings
			WHERE organization_id = $1`,
		Description: "Whether audit logging is enabled for the organization",
		Shape:       ShapeBoolean,
	},
	"data_retention_policy_configured": {
		Template: `SELECT EXISTS(SELECT 1 FROM retention_policies
			WHERE organization_id = $1 AND active = true)`,
		Description: "Whether an active data retention policy is configured",
		Shape:       ShapeBoolean,
	},
	"backup_completed_last_24h": {
		Template: `SELECT EXISTS(SELECT 1 FROM backup_runs
			WHERE organization_id = $1 AND succeeded = true
			AND completed_at > NOW() - INTERVAL '24 hours')`,
		Description: "Whether a successful backup completed in the last day",
		Shape:       ShapeBoolean,
	},
}

// CatalogEntry is the admin-surface view of one catalog query. Query text is
// deliberately not included.
type CatalogEntry struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// CatalogEntries lists the catalog for an administration surface, sorted by
// id.
func CatalogEntries() []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(safeQueryCatalog))
	for id, q := range safeQueryCatalog {
		entries = append(entries, CatalogEntry{ID: id, Description: q.Description})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// SafeQueryResult is the single row a catalog query returns.
type SafeQueryResult struct {
	Shape  QueryShape
	Count  int64
	Result bool
}

// CatalogExecutor is the seam between the query evaluator and the catalog,
// so tests can substitute a fake without a database.
type CatalogExecutor interface {
	ExecuteSafeQuery(ctx context.Context, queryID, organizationID string) (*SafeQueryResult, error)
}

// QueryCatalog executes whitelisted queries against the organizational data
// store. It is the only point through which a rule may cause a read.
type QueryCatalog struct {
	db *sql.DB
}

// NewQueryCatalog creates a catalog bound to the given connection.
func NewQueryCatalog(db *sql.DB) *QueryCatalog {
	return &QueryCatalog{db: db}
}

// ExecuteSafeQuery runs the catalog query identified by queryID with the
// organization id bound as a parameter. Unknown ids fail with
// UnknownQueryError before the store is touched.
func (c *QueryCatalog) ExecuteSafeQuery(ctx context.Context, queryID, organizationID string) (*SafeQueryResult, error) {
	q, ok := safeQueryCatalog[queryID]
	if !ok {
		return nil, &UnknownQueryError{QueryID: queryID}
	}

	row := c.db.QueryRowContext(ctx, q.Template, organizationID)
	result := &SafeQueryResult{Shape: q.Shape}
	switch q.Shape {
	case ShapeCount:
		if err := row.Scan(&result.Count); err != nil {
			return nil, fmt.Errorf("executing catalog query %s: %w", queryID, err)
		}
	case ShapeBoolean:
		if err := row.Scan(&result.Result); err != nil {
			return nil, fmt.Errorf("executing catalog query %s: %w", queryID, err)
		}
	}
	return result, nil
}
