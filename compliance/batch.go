package compliance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/opencomply/engine/internal/logger"
)

// DefaultBatchConcurrency bounds how many rules evaluate in parallel within
// one batch. Rules in a batch share an evaluation time but have no ordering
// requirement between them.
const DefaultBatchConcurrency = 4

// slowBatchThresholdMs marks batch runs worth a warning.
const slowBatchThresholdMs = 30_000

// BatchEvaluator evaluates sets of rules and produces one summary per run.
// It holds no timers: scheduling cadence belongs to an external trigger that
// calls EvaluateDue.
type BatchEvaluator struct {
	repo        RuleRepository
	evaluator   *RuleEvaluator
	cache       RulesCache
	metrics     *Metrics
	concurrency int
}

// NewBatchEvaluator wires the orchestrator. cache and metrics may be nil.
func NewBatchEvaluator(repo RuleRepository, evaluator *RuleEvaluator, cache RulesCache, metrics *Metrics) *BatchEvaluator {
	return &BatchEvaluator{
		repo:        repo,
		evaluator:   evaluator,
		cache:       cache,
		metrics:     metrics,
		concurrency: DefaultBatchConcurrency,
	}
}

// SetConcurrency overrides the per-batch parallelism bound. Values below one
// force sequential evaluation.
func (b *BatchEvaluator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	b.concurrency = n
}

// EvaluateAll evaluates every active rule of the organization matching the
// filters. All rules in the batch observe the same evaluation time, fixed
// at batch start.
func (b *BatchEvaluator) EvaluateAll(ctx context.Context, organizationID string, f Filters, dryRun bool) (*BatchEvaluationResult, error) {
	rules, err := b.activeRules(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("selecting rules: %w", err)
	}

	selected := make([]*ComplianceRule, 0, len(rules))
	for _, rule := range rules {
		if f.matches(rule) {
			selected = append(selected, rule)
		}
	}
	return b.run(ctx, organizationID, selected, dryRun), nil
}

// EvaluateDue evaluates the organization's rules whose check-frequency
// interval has elapsed, or which have never been checked. Selection is a
// pure predicate; running it on a timer is the caller's concern.
func (b *BatchEvaluator) EvaluateDue(ctx context.Context, organizationID string, dryRun bool) (*BatchEvaluationResult, error) {
	now := time.Now()
	rules, err := b.repo.FindDueRules(ctx, organizationID, now)
	if err != nil {
		return nil, fmt.Errorf("selecting due rules: %w", err)
	}
	return b.run(ctx, organizationID, rules, dryRun), nil
}

// run evaluates the selected rules with bounded parallelism and aggregates
// the batch result. A rule whose evaluation escapes the per-rule error
// boundary contributes to skippedRules; it never aborts the batch.
func (b *BatchEvaluator) run(ctx context.Context, organizationID string, rules []*ComplianceRule, dryRun bool) *BatchEvaluationResult {
	start := time.Now()
	sortRules(rules)

	ec := EvaluationContext{
		OrganizationID: organizationID,
		EvaluationTime: start,
		DryRun:         dryRun,
	}

	results := make([]*RuleEvaluationResult, len(rules))
	var skipped int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.concurrency)
	var mu sync.Mutex

	for i, rule := range rules {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rule *ComplianceRule) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					// Defensive second layer: the rule evaluator catches its
					// own errors, but a panicking custom evaluator must not
					// take the batch down.
					mu.Lock()
					skipped++
					mu.Unlock()
					b.metrics.observeSkipped()
					logger.ErrorEvaluation("rule evaluation panicked",
						"ruleId", rule.ID,
						"panic", fmt.Sprint(r))
				}
			}()
			results[i] = b.evaluator.EvaluateRule(ctx, rule, ec)
		}(i, rule)
	}
	wg.Wait()

	batch := &BatchEvaluationResult{
		TotalRules:   len(rules),
		SkippedRules: int(skipped),
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		batch.Results = append(batch.Results, res)
		if res.Passed {
			batch.PassedRules++
		} else {
			batch.FailedRules++
		}
	}
	batch.ExecutionTimeMs = time.Since(start).Milliseconds()
	b.metrics.observeBatch(time.Since(start).Seconds())
	if batch.ExecutionTimeMs > slowBatchThresholdMs {
		logger.WarnSlowBatch(organizationID, batch.ExecutionTimeMs)
	}

	logger.Info("batch evaluation finished",
		"organizationId", organizationID,
		"total", batch.TotalRules,
		"passed", batch.PassedRules,
		"failed", batch.FailedRules,
		"skipped", batch.SkippedRules,
		"dryRun", dryRun,
		"durationMs", batch.ExecutionTimeMs)
	return batch
}

// Summary derives the organization's compliance posture from rule
// statistics. A rule counts as passing when its historical pass count
// exceeds its fail count.
func (b *BatchEvaluator) Summary(ctx context.Context, organizationID string) (*ComplianceSummary, error) {
	// Bypass the cache: the score depends on counters that move with every
	// non-dry-run evaluation.
	rules, err := b.repo.FindActiveRules(ctx, organizationID, Filters{})
	if err != nil {
		return nil, fmt.Errorf("selecting rules: %w", err)
	}

	summary := &ComplianceSummary{
		OrganizationID: organizationID,
		TotalActive:    len(rules),
		ByFramework:    make(map[Framework]GroupSummary),
		ByCategory:     make(map[Category]GroupSummary),
	}
	for _, rule := range rules {
		passing := rule.Passing()
		if passing {
			summary.PassingRules++
		}
		fw := summary.ByFramework[rule.Framework]
		fw.Total++
		if passing {
			fw.Passing++
		}
		summary.ByFramework[rule.Framework] = fw

		cat := summary.ByCategory[rule.Category]
		cat.Total++
		if passing {
			cat.Passing++
		}
		summary.ByCategory[rule.Category] = cat
	}
	if summary.TotalActive > 0 {
		summary.ComplianceScore = int(math.Round(100 * float64(summary.PassingRules) / float64(summary.TotalActive)))
	}
	return summary, nil
}

// activeRules fetches the organization's unfiltered active rule set, going
// through the cache when one is configured.
func (b *BatchEvaluator) activeRules(ctx context.Context, organizationID string) ([]*ComplianceRule, error) {
	if b.cache != nil {
		if cached := b.cache.Get(ctx, organizationID); cached != nil {
			return cached, nil
		}
	}
	rules, err := b.repo.FindActiveRules(ctx, organizationID, Filters{})
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		b.cache.Set(ctx, organizationID, rules)
	}
	return rules, nil
}

// sortRules orders most severe first, then by name. The ordering is a triage
// convenience for readers of the batch result.
func sortRules(rules []*ComplianceRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Severity.Rank() != rules[j].Severity.Rank() {
			return rules[i].Severity.Rank() > rules[j].Severity.Rank()
		}
		return rules[i].Name < rules[j].Name
	})
}
