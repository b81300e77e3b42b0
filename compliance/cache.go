package compliance

import (
	"context"
	"time"
)

// RulesCache caches each organization's active rule list between batch runs.
// Implementations may be in-memory or shared (Redis) for multi-instance
// deployments.
type RulesCache interface {
	// Get retrieves cached rules for an organization, nil on miss or expiry
	Get(ctx context.Context, organizationID string) []*ComplianceRule

	// Set stores an organization's active rules
	Set(ctx context.Context, organizationID string, rules []*ComplianceRule)

	// Invalidate clears one organization's entry, forcing a refresh on the
	// next Get
	Invalidate(ctx context.Context, organizationID string)
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}
