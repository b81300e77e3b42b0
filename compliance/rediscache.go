package compliance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/opencomply/engine/internal/logger"
)

// RedisRulesCache is a RulesCache backed by Redis, for deployments running
// more than one engine instance against the same catalog. Cache failures
// degrade to misses; the repository remains the source of truth.
type RedisRulesCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRulesCache creates a Redis-backed rules cache. A zero TTL falls
// back to the default config's TTL so shared entries always expire.
func NewRedisRulesCache(client *redis.Client, config CacheConfig) *RedisRulesCache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultCacheConfig().TTL
	}
	return &RedisRulesCache{client: client, ttl: ttl}
}

func rulesCacheKey(organizationID string) string {
	return "opencomply:rules:" + organizationID
}

// Get retrieves cached rules, nil on miss, expiry, or any Redis error.
func (c *RedisRulesCache) Get(ctx context.Context, organizationID string) []*ComplianceRule {
	payload, err := c.client.Get(ctx, rulesCacheKey(organizationID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("rules cache read failed", "organizationId", organizationID, "error", err)
		}
		return nil
	}

	var rules []*ComplianceRule
	if err := json.Unmarshal(payload, &rules); err != nil {
		logger.Warn("rules cache entry corrupt, dropping", "organizationId", organizationID, "error", err)
		c.client.Del(ctx, rulesCacheKey(organizationID))
		return nil
	}
	return rules
}

// Set stores the organization's rules with the configured TTL.
func (c *RedisRulesCache) Set(ctx context.Context, organizationID string, rules []*ComplianceRule) {
	payload, err := json.Marshal(rules)
	if err != nil {
		logger.Warn("rules cache encode failed", "organizationId", organizationID, "error", err)
		return
	}
	if err := c.client.Set(ctx, rulesCacheKey(organizationID), payload, c.ttl).Err(); err != nil {
		logger.Warn("rules cache write failed", "organizationId", organizationID, "error", err)
	}
}

// Invalidate clears the organization's entry.
func (c *RedisRulesCache) Invalidate(ctx context.Context, organizationID string) {
	if err := c.client.Del(ctx, rulesCacheKey(organizationID)).Err(); err != nil {
		logger.Warn("rules cache invalidate failed", "organizationId", organizationID, "error", err)
	}
}
