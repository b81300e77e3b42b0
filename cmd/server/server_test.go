package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opencomply/engine/compliance"
)

type stubCatalog struct{}

func (stubCatalog) ExecuteSafeQuery(ctx context.Context, queryID, organizationID string) (*compliance.SafeQueryResult, error) {
	if queryID == "count_users_without_mfa" {
		return &compliance.SafeQueryResult{Shape: compliance.ShapeCount, Count: 0}, nil
	}
	return nil, &compliance.UnknownQueryError{QueryID: queryID}
}

// newTestServer builds a server over the in-memory repository so handler
// behavior is testable without a database. Health is excluded: it pings the
// real connection.
func newTestServer(t *testing.T) (*Server, *compliance.InMemoryRuleRepository) {
	t.Helper()

	repo := compliance.NewInMemoryRuleRepository()
	cache := compliance.NewInMemoryRulesCache(compliance.DefaultCacheConfig())
	registry := compliance.NewEvaluatorRegistry()

	types := compliance.NewTypeEvaluators(stubCatalog{}, nil, nil, nil)
	rules := compliance.NewRuleEvaluator(repo, types, registry, nil)
	batch := compliance.NewBatchEvaluator(repo, rules, cache, nil)

	s := &Server{
		repo:     repo,
		batch:    batch,
		rules:    rules,
		cache:    cache,
		registry: registry,
	}
	s.setupRoutes()
	return s, repo
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func createRuleBody() map[string]any {
	return map[string]any{
		"name":           "mfa enforced",
		"framework":      "info_security",
		"category":       "technical",
		"severity":       "high",
		"checkFrequency": "daily",
		"ruleLogic": map[string]any{
			"config": map[string]any{
				"type":           "query",
				"queryId":        "count_users_without_mfa",
				"expectedResult": "zero",
			},
		},
	}
}

func TestCatalogEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/catalog", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Queries []compliance.CatalogEntry `json:"queries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Queries) == 0 {
		t.Error("catalog listing is empty")
	}
	for _, q := range resp.Queries {
		if q.ID == "" || q.Description == "" {
			t.Errorf("catalog entry incomplete: %+v", q)
		}
	}
}

func TestRuleLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/", createRuleBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created RuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.IsActive {
		t.Errorf("created rule = %+v", created)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orgs/org-1/rules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// The rule is invisible through another organization's path.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/orgs/org-2/rules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-org get status = %d, want 404", rec.Code)
	}

	update := createRuleBody()
	update["name"] = "mfa enforced everywhere"
	update["isActive"] = true
	rec = doJSON(t, s, http.MethodPut, "/api/v1/orgs/org-1/rules/"+created.ID, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated RuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Name != "mfa enforced everywhere" {
		t.Errorf("updated name = %q", updated.Name)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	s, _ := newTestServer(t)

	body := createRuleBody()
	delete(body, "name")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}

	body = createRuleBody()
	body["ruleLogic"] = map[string]any{}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing config status = %d, want 400", rec.Code)
	}
}

func TestEvaluateAllEndpoint(t *testing.T) {
	s, repo := newTestServer(t)
	seedServerRule(t, repo, "r1")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/evaluate", map[string]any{"dryRun": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result compliance.BatchEvaluationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.TotalRules != 1 || result.PassedRules != 1 {
		t.Errorf("batch result = %+v", result)
	}
}

// The single-rule preview defaults to dry run: repeated calls leave the
// counters untouched.
func TestEvaluateRulePreviewDefaultsDryRun(t *testing.T) {
	s, repo := newTestServer(t)
	seedServerRule(t, repo, "r1")

	for i := 0; i < 3; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/r1/evaluate", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	}

	stored, err := repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PassCount != 0 || stored.LastCheckedAt != nil {
		t.Error("preview mutated statistics")
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/r1/evaluate?dryRun=false", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stored, err = repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PassCount != 1 {
		t.Errorf("PassCount = %d after explicit dryRun=false, want 1", stored.PassCount)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	s, repo := newTestServer(t)
	seedServerRule(t, repo, "r1")

	// One recorded pass makes the rule count as passing.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/orgs/org-1/rules/r1/evaluate?dryRun=false", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orgs/org-1/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	var summary compliance.ComplianceSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.ComplianceScore != 100 || summary.TotalActive != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func seedServerRule(t *testing.T, repo *compliance.InMemoryRuleRepository, id string) {
	t.Helper()
	rule := &compliance.ComplianceRule{
		ID:             id,
		OrganizationID: "org-1",
		Name:           fmt.Sprintf("rule %s", id),
		Framework:      compliance.FrameworkInfoSecurity,
		Category:       compliance.CategoryTechnical,
		Severity:       compliance.SeverityHigh,
		IsActive:       true,
		CheckFrequency: compliance.FrequencyDaily,
		RuleLogic: compliance.RuleLogic{
			Config: compliance.QueryConfig{
				QueryID:        "count_users_without_mfa",
				ExpectedResult: compliance.ExpectZero,
			},
		},
	}
	if err := repo.Add(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
}
