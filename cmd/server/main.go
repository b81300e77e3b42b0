package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencomply/engine/checkers/accessreview"
	"github.com/opencomply/engine/checkers/expr"
	"github.com/opencomply/engine/compliance"
	"github.com/opencomply/engine/internal/config"
	"github.com/opencomply/engine/internal/logger"
)

type Server struct {
	db       *sql.DB
	repo     compliance.RuleRepository
	batch    *compliance.BatchEvaluator
	rules    *compliance.RuleEvaluator
	cache    compliance.RulesCache
	registry *compliance.EvaluatorRegistry
	router   *chi.Mux
}

// NewServer wires the engine and its collaborators from configuration.
func NewServer(cfg config.Config) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var cache compliance.RulesCache
	cacheCfg := compliance.CacheConfig{TTL: cfg.Evaluation.CacheTTL}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		cache = compliance.NewRedisRulesCache(redis.NewClient(opts), cacheCfg)
		logger.Info("using redis rules cache")
	} else {
		cache = compliance.NewInMemoryRulesCache(cacheCfg)
	}

	repo := compliance.NewPostgresRuleRepository(db)
	catalog := compliance.NewQueryCatalog(db)
	metricsSource := compliance.NewPostgresMetricsSource(db)
	patternSource := compliance.NewPostgresPatternSource(db)
	workflowSource := compliance.NewPostgresWorkflowSource(db)

	// Checker modules register during startup; the registry is read-only
	// afterwards.
	registry := compliance.NewEvaluatorRegistry()
	if err := expr.Register(registry, &orgFactsProvider{db: db}); err != nil {
		return nil, fmt.Errorf("failed to register expression checker: %w", err)
	}
	if err := accessreview.Register(registry, workflowSource); err != nil {
		return nil, fmt.Errorf("failed to register access review checker: %w", err)
	}
	logger.Info("custom evaluators registered", "names", registry.Names())

	engineMetrics := compliance.NewMetrics()
	if err := engineMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	types := compliance.NewTypeEvaluators(catalog, metricsSource, patternSource, workflowSource)
	rules := compliance.NewRuleEvaluator(repo, types, registry, engineMetrics)
	batch := compliance.NewBatchEvaluator(repo, rules, cache, engineMetrics)
	batch.SetConcurrency(cfg.Evaluation.Concurrency)

	s := &Server{
		db:       db,
		repo:     repo,
		batch:    batch,
		rules:    rules,
		cache:    cache,
		registry: registry,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/v1/catalog", s.handleCatalog)
	r.Get("/api/v1/evaluators", s.handleEvaluators)

	r.Route("/api/v1/orgs/{orgID}", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluateAll)
		r.Post("/evaluate/due", s.handleEvaluateDue)
		r.Get("/summary", s.handleSummary)

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{ruleID}", s.handleGetRule)
			r.Put("/{ruleID}", s.handleUpdateRule)
			r.Post("/{ruleID}/evaluate", s.handleEvaluateRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"evaluators": s.registry.Names(),
	})
}

// handleCatalog lists the safe-query catalog for the admin surface. Query
// text never leaves the process.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"queries": compliance.CatalogEntries(),
	})
}

func (s *Server) handleEvaluators(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"evaluators": s.registry.Names(),
	})
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req EvaluateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	filters := compliance.Filters{
		Framework: compliance.Framework(req.Framework),
		Category:  compliance.Category(req.Category),
		Frequency: compliance.CheckFrequency(req.Frequency),
	}
	result, err := s.batch.EvaluateAll(r.Context(), orgID, filters, req.DryRun)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluateDue(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req EvaluateDueRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := s.batch.EvaluateDue(r.Context(), orgID, req.DryRun)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleEvaluateRule previews a single rule. The preview defaults to dry
// run; pass dryRun=false explicitly to record statistics.
func (s *Server) handleEvaluateRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	ruleID := chi.URLParam(r, "ruleID")

	dryRun := true
	if v := r.URL.Query().Get("dryRun"); v == "false" {
		dryRun = false
	}

	rule, err := s.repo.Get(r.Context(), ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	if rule.OrganizationID != orgID {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}

	result := s.rules.EvaluateRule(r.Context(), rule, compliance.EvaluationContext{
		OrganizationID: orgID,
		EvaluationTime: time.Now(),
		DryRun:         dryRun,
	})
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	summary, err := s.batch.Summary(r.Context(), orgID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute summary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req CreateRuleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.RuleLogic.Config == nil {
		respondError(w, http.StatusBadRequest, "ruleLogic.config is required", nil)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := &compliance.ComplianceRule{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           req.Name,
		Framework:      compliance.Framework(req.Framework),
		Category:       compliance.Category(req.Category),
		Severity:       compliance.Severity(req.Severity),
		IsActive:       active,
		CheckFrequency: compliance.CheckFrequency(req.CheckFrequency),
		RuleLogic:      req.RuleLogic,
	}
	if err := s.repo.Add(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}
	s.cache.Invalidate(r.Context(), orgID)

	respondJSON(w, http.StatusCreated, ruleResponse(rule))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	rules, err := s.repo.FindActiveRules(r.Context(), orgID, compliance.Filters{
		Framework: compliance.Framework(r.URL.Query().Get("framework")),
		Category:  compliance.Category(r.URL.Query().Get("category")),
		Frequency: compliance.CheckFrequency(r.URL.Query().Get("frequency")),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	responses := make([]RuleResponse, 0, len(rules))
	for _, rule := range rules {
		responses = append(responses, ruleResponse(rule))
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": responses})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	ruleID := chi.URLParam(r, "ruleID")

	rule, err := s.repo.Get(r.Context(), ruleID)
	if err != nil || rule.OrganizationID != orgID {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, ruleResponse(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	ruleID := chi.URLParam(r, "ruleID")

	existing, err := s.repo.Get(r.Context(), ruleID)
	if err != nil || existing.OrganizationID != orgID {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	var req UpdateRuleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.RuleLogic.Config == nil {
		respondError(w, http.StatusBadRequest, "ruleLogic.config is required", nil)
		return
	}

	rule := &compliance.ComplianceRule{
		ID:             ruleID,
		OrganizationID: orgID,
		Name:           req.Name,
		Framework:      compliance.Framework(req.Framework),
		Category:       compliance.Category(req.Category),
		Severity:       compliance.Severity(req.Severity),
		IsActive:       req.IsActive,
		CheckFrequency: compliance.CheckFrequency(req.CheckFrequency),
		RuleLogic:      req.RuleLogic,
	}
	if err := s.repo.Update(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}
	s.cache.Invalidate(r.Context(), orgID)

	respondJSON(w, http.StatusOK, ruleResponse(rule))
}

// orgFactsProvider feeds the CEL expression checker with a small fact map
// derived from organizational data.
type orgFactsProvider struct {
	db *sql.DB
}

func (p *orgFactsProvider) OrganizationFacts(ctx context.Context, organizationID string) (map[string]any, error) {
	var userCount, adminCount, mfaCount int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE mfa_enabled)
		FROM org_users
		WHERE organization_id = $1 AND deactivated_at IS NULL
	`, organizationID).Scan(&userCount, &adminCount, &mfaCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load organization facts: %w", err)
	}

	mfaCoverage := 0.0
	if userCount > 0 {
		mfaCoverage = float64(mfaCount) / float64(userCount)
	}
	return map[string]any{
		"UserCount":   userCount,
		"AdminCount":  adminCount,
		"MFACoverage": mfaCoverage,
	}, nil
}

func decodeBody(r *http.Request, into any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(into)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	respondJSON(w, status, ErrorResponse{Error: message})
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to start server", "error", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	server.db.Close()
	_ = logger.Shutdown(ctx)
}
