package compliance

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*ComplianceRule
	cachedAt time.Time
}

// InMemoryRulesCache is a per-organization in-memory implementation of
// RulesCache. Thread-safe for concurrent access.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves cached rules for the organization. Returns nil on miss or
// when the entry has outlived the configured TTL.
func (c *InMemoryRulesCache) Get(ctx context.Context, organizationID string) []*ComplianceRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[organizationID]
	if !ok {
		return nil
	}
	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy to prevent external modification.
	rulesCopy := make([]*ComplianceRule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores the organization's rules.
func (c *InMemoryRulesCache) Set(ctx context.Context, organizationID string, rules []*ComplianceRule) {
	rulesCopy := make([]*ComplianceRule, len(rules))
	copy(rulesCopy, rules)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[organizationID] = cacheEntry{rules: rulesCopy, cachedAt: time.Now()}
}

// Invalidate clears the organization's entry.
func (c *InMemoryRulesCache) Invalidate(ctx context.Context, organizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, organizationID)
}
