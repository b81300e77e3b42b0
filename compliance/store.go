package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Filters narrows rule selection for batch evaluation. Zero values mean no
// filter on that attribute.
type Filters struct {
	Framework Framework
	Category  Category
	Frequency CheckFrequency
}

func (f Filters) matches(r *ComplianceRule) bool {
	if f.Framework != "" && r.Framework != f.Framework {
		return false
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Frequency != "" && r.CheckFrequency != f.Frequency {
		return false
	}
	return true
}

// RuleRepository manages rule persistence and retrieval. Definition fields
// are written by the authoring surface; the evaluator only calls
// IncrementStatistics.
type RuleRepository interface {
	// Add a new rule
	Add(ctx context.Context, rule *ComplianceRule) error

	// Get a rule by ID
	Get(ctx context.Context, id string) (*ComplianceRule, error)

	// Update an existing rule's definition fields
	Update(ctx context.Context, rule *ComplianceRule) error

	// FindActiveRules returns the active rules of an organization matching
	// the filters
	FindActiveRules(ctx context.Context, organizationID string, f Filters) ([]*ComplianceRule, error)

	// FindDueRules returns active rules never checked, or whose check
	// frequency interval has elapsed since lastCheckedAt
	FindDueRules(ctx context.Context, organizationID string, now time.Time) ([]*ComplianceRule, error)

	// IncrementStatistics records one evaluation outcome: sets lastCheckedAt
	// and increments exactly one of passCount or failCount
	IncrementStatistics(ctx context.Context, ruleID string, passed bool) error
}

// InMemoryRuleRepository implements RuleRepository with a mutex-guarded map.
// Used by unit tests and dry-run previews.
type InMemoryRuleRepository struct {
	rules map[string]*ComplianceRule
	mu    sync.RWMutex
}

// NewInMemoryRuleRepository creates an empty in-memory repository.
func NewInMemoryRuleRepository() *InMemoryRuleRepository {
	return &InMemoryRuleRepository{
		rules: make(map[string]*ComplianceRule),
	}
}

// Add inserts a new rule, enforcing unique ids.
func (s *InMemoryRuleRepository) Add(ctx context.Context, rule *ComplianceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

// Get retrieves a rule by id.
func (s *InMemoryRuleRepository) Get(ctx context.Context, id string) (*ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s not found", id)
	}
	cp := *rule
	return &cp, nil
}

// Update replaces a rule's definition fields, preserving statistics and
// CreatedAt.
func (s *InMemoryRuleRepository) Update(ctx context.Context, rule *ComplianceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", rule.ID)
	}

	cp := *rule
	cp.CreatedAt = existing.CreatedAt
	cp.PassCount = existing.PassCount
	cp.FailCount = existing.FailCount
	cp.LastCheckedAt = existing.LastCheckedAt
	cp.UpdatedAt = time.Now()
	s.rules[rule.ID] = &cp
	return nil
}

// FindActiveRules returns active rules for the organization matching the
// filters. Ordering is left to the orchestrator.
func (s *InMemoryRuleRepository) FindActiveRules(ctx context.Context, organizationID string, f Filters) ([]*ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*ComplianceRule
	for _, rule := range s.rules {
		if rule.OrganizationID != organizationID || !rule.IsActive {
			continue
		}
		if !f.matches(rule) {
			continue
		}
		cp := *rule
		active = append(active, &cp)
	}
	return active, nil
}

// FindDueRules returns active rules that have never been checked or whose
// frequency interval has elapsed since lastCheckedAt.
func (s *InMemoryRuleRepository) FindDueRules(ctx context.Context, organizationID string, now time.Time) ([]*ComplianceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*ComplianceRule
	for _, rule := range s.rules {
		if rule.OrganizationID != organizationID || !rule.IsActive {
			continue
		}
		if rule.LastCheckedAt != nil && now.Sub(*rule.LastCheckedAt) <= rule.CheckFrequency.Interval() {
			continue
		}
		cp := *rule
		due = append(due, &cp)
	}
	return due, nil
}

// IncrementStatistics sets lastCheckedAt and increments exactly one counter.
// The increment is atomic under the store lock, so concurrent rule
// evaluations in one batch remain safe.
func (s *InMemoryRuleRepository) IncrementStatistics(ctx context.Context, ruleID string, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[ruleID]
	if !exists {
		return fmt.Errorf("rule with ID %s not found", ruleID)
	}

	now := time.Now()
	rule.LastCheckedAt = &now
	if passed {
		rule.PassCount++
	} else {
		rule.FailCount++
	}
	rule.UpdatedAt = now
	return nil
}
