package compliance

import (
	"context"
	"errors"
	"testing"
)

// TestWhitelistClosure verifies that ids outside the compiled catalog always
// fail with UnknownQueryError before the store is touched. The catalog is
// given a nil connection: reaching the database would panic.
func TestWhitelistClosure(t *testing.T) {
	catalog := NewQueryCatalog(nil)

	unknownIDs := []string{
		"",
		"drop_all_tables",
		"count_users_without_mfa; DELETE FROM org_users",
		"SELECT * FROM org_users",
		"count_users_without_mfa ",
	}
	for _, id := range unknownIDs {
		_, err := catalog.ExecuteSafeQuery(context.Background(), id, "org-1")
		if err == nil {
			t.Fatalf("ExecuteSafeQuery(%q) should fail", id)
		}
		var unknown *UnknownQueryError
		if !errors.As(err, &unknown) {
			t.Errorf("ExecuteSafeQuery(%q) error = %v, want UnknownQueryError", id, err)
		}
	}
}

func TestCatalogEntriesEnumerable(t *testing.T) {
	entries := CatalogEntries()
	if len(entries) != len(safeQueryCatalog) {
		t.Fatalf("CatalogEntries() returned %d entries, want %d", len(entries), len(safeQueryCatalog))
	}

	for i, entry := range entries {
		if entry.Description == "" {
			t.Errorf("entry %s has no description", entry.ID)
		}
		if i > 0 && entries[i-1].ID >= entry.ID {
			t.Errorf("entries not sorted: %s before %s", entries[i-1].ID, entry.ID)
		}
	}
}

// Every template must bind the organization id as $1; none may interpolate
// caller input.
func TestCatalogTemplatesParameterized(t *testing.T) {
	for id, q := range safeQueryCatalog {
		if q.Template == "" {
			t.Errorf("query %s has an empty template", id)
		}
		if !containsParam(q.Template) {
			t.Errorf("query %s does not bind the organization id as $1", id)
		}
	}
}

func containsParam(template string) bool {
	for i := 0; i+1 < len(template); i++ {
		if template[i] == '$' && template[i+1] == '1' {
			return true
		}
	}
	return false
}

func TestScenarioCountUsersWithoutMFA(t *testing.T) {
	if _, ok := safeQueryCatalog["count_users_without_mfa"]; !ok {
		t.Fatal("count_users_without_mfa must be in the catalog")
	}
}
