package compliance

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryRulesCache(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRulesCache(CacheConfig{TTL: time.Minute})

	if got := cache.Get(ctx, "org-1"); got != nil {
		t.Errorf("Get on empty cache = %v, want nil", got)
	}

	rules := []*ComplianceRule{newTestRule("r1", QueryConfig{QueryID: "q", ExpectedResult: ExpectZero})}
	cache.Set(ctx, "org-1", rules)

	got := cache.Get(ctx, "org-1")
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("Get = %v", got)
	}

	// Entries are keyed per organization.
	if other := cache.Get(ctx, "org-2"); other != nil {
		t.Errorf("Get for another org = %v, want nil", other)
	}

	cache.Invalidate(ctx, "org-1")
	if got := cache.Get(ctx, "org-1"); got != nil {
		t.Errorf("Get after Invalidate = %v, want nil", got)
	}
}

func TestInMemoryRulesCacheTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRulesCache(CacheConfig{TTL: time.Nanosecond})

	cache.Set(ctx, "org-1", []*ComplianceRule{newTestRule("r1", QueryConfig{QueryID: "q", ExpectedResult: ExpectZero})})
	time.Sleep(time.Millisecond)

	if got := cache.Get(ctx, "org-1"); got != nil {
		t.Errorf("expired entry returned: %v", got)
	}
}

func TestInMemoryRulesCacheCopiesSlices(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRulesCache(DefaultCacheConfig())

	rules := []*ComplianceRule{
		newTestRule("r1", QueryConfig{QueryID: "q", ExpectedResult: ExpectZero}),
		newTestRule("r2", QueryConfig{QueryID: "q", ExpectedResult: ExpectZero}),
	}
	cache.Set(ctx, "org-1", rules)
	rules[0] = nil

	got := cache.Get(ctx, "org-1")
	if got[0] == nil {
		t.Error("cache aliased the caller's slice")
	}

	got[1] = nil
	again := cache.Get(ctx, "org-1")
	if again[1] == nil {
		t.Error("cache returned its internal slice")
	}
}
