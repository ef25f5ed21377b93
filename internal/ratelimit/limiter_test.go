package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-process WindowStore with the shared store's sliding-window
// semantics, plus a switch to simulate an outage mid-test. Its key scheme and
// trailing-window purge mirror windowKey and slidingWindowScript: one
// time-stable set per (rule, identity, window class).
type memStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	down    bool
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]time.Time), now: time.Now}
}

func (m *memStore) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memStore) key(identifier string, rule Rule) string {
	return rule.EndpointPattern + ":" + identifier + ":" + rule.Window.String()
}

func (m *memStore) Check(_ context.Context, identifier string, rule Rule) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return Decision{}, &StoreError{Op: "check", Err: errors.New("connection refused")}
	}
	now := m.now()
	window := rule.Window.Duration()
	cutoff := now.Add(-window)

	key := m.key(identifier, rule)
	kept := m.entries[key][:0]
	for _, ts := range m.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	count := len(kept)
	m.entries[key] = append(kept, now) // optimistic insert, even when denied

	d := Decision{
		Allowed:   count < rule.MaxRequests,
		Remaining: rule.MaxRequests - count - 1,
		Limit:     rule.MaxRequests,
		ResetAt:   now.Add(window),
		Window:    rule.Window,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}

func (m *memStore) Peek(_ context.Context, identifier string, rule Rule) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, &StoreError{Op: "peek", Err: errors.New("connection refused")}
	}
	cutoff := m.now().Add(-rule.Window.Duration())
	count := 0
	for _, ts := range m.entries[m.key(identifier, rule)] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return &StoreError{Op: "ping", Err: errors.New("connection refused")}
	}
	return nil
}

func newTestLimiter(t *testing.T, shared WindowStore) *Limiter {
	t.Helper()
	return New(Config{StoreTimeout: time.Second, FallbackEnabled: true}, shared, zap.NewNop())
}

func TestLimiter_FailOpenWithoutRules(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	allowed, headers := limiter.Check(context.Background(), Request{Path: "/anything", ClientAddress: "1.2.3.4"})
	assert.True(t, allowed)
	assert.Empty(t, headers)
}

func TestLimiter_QuotaExhaustion(t *testing.T) {
	store := newMemStore()
	limiter := newTestLimiter(t, store)
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 10, 2)))

	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}
	ctx := context.Background()

	var headers map[string]string
	for i := 0; i < 10; i++ {
		var allowed bool
		allowed, headers = limiter.Check(ctx, req)
		require.True(t, allowed, "request %d within quota", i+1)
	}
	assert.Equal(t, "0", headers["X-RateLimit-Remaining"], "last allowed request reports zero remaining")
	assert.Equal(t, "10", headers["X-RateLimit-Limit"])
	assert.Equal(t, "per_minute", headers["X-RateLimit-Type"])

	allowed, headers := limiter.Check(ctx, req)
	assert.False(t, allowed, "request over quota must be denied")
	assert.Equal(t, "60", headers["Retry-After"])
}

func TestLimiter_BoundaryBurstStaysCapped(t *testing.T) {
	store := newMemStore()
	limiter := newTestLimiter(t, store)
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 10, 0)))

	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}
	ctx := context.Background()

	// Exhaust the quota two seconds before the wall-clock minute rolls over.
	base := time.Unix(1_700_000_038, 0)
	store.now = func() time.Time { return base }
	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Check(ctx, req)
		require.True(t, allowed, "request %d within quota", i+1)
	}

	// Three seconds later the minute boundary has passed, but the ten
	// requests are still inside the trailing window: no fresh quota.
	store.now = func() time.Time { return base.Add(3 * time.Second) }
	allowed, _ := limiter.Check(ctx, req)
	assert.False(t, allowed, "crossing a minute boundary must not grant a new quota")

	// A full window later the burst has aged out.
	store.now = func() time.Time { return base.Add(61 * time.Second) }
	allowed, _ = limiter.Check(ctx, req)
	assert.True(t, allowed)
}

func TestLimiter_IdentifiersTrackedIndependently(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 10, 2)))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Check(ctx, Request{Path: "/api/auth", ClientAddress: "1.2.3.4"})
		require.True(t, allowed)
		allowed, _ = limiter.Check(ctx, Request{Path: "/api/auth", ClientAddress: "5.6.7.8"})
		require.True(t, allowed, "second identifier has its own quota")
	}
	allowed, _ := limiter.Check(ctx, Request{Path: "/api/auth", ClientAddress: "1.2.3.4"})
	assert.False(t, allowed)
	allowed, _ = limiter.Check(ctx, Request{Path: "/api/auth", ClientAddress: "5.6.7.8"})
	assert.False(t, allowed)
}

func TestLimiter_WildcardCoversUnconfiguredPaths(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	require.NoError(t, limiter.AddRule(mustRule(t, Wildcard, PerMinute, 120, 0)))

	allowed, headers := limiter.Check(context.Background(), Request{Path: "/foo/bar", ClientAddress: "1.2.3.4"})
	assert.True(t, allowed)
	assert.Equal(t, "120", headers["X-RateLimit-Limit"], "wildcard rule applies, not no-rule")
}

func TestLimiter_MostRestrictiveRuleWins(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/orders", PerMinute, 30, 0)))
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/orders", PerHour, 100, 0)))

	req := Request{Path: "/api/orders", ClientAddress: "1.2.3.4"}
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		allowed, _ := limiter.Check(ctx, req)
		require.True(t, allowed, "request %d", i+1)
	}
	// Per-minute budget gone, per-hour budget (100) still open: denied anyway.
	allowed, headers := limiter.Check(ctx, req)
	assert.False(t, allowed)
	assert.Equal(t, "per_minute", headers["X-RateLimit-Type"], "headers reflect the denying rule")
	assert.Equal(t, "30", headers["X-RateLimit-Limit"])
}

func TestLimiter_CheckIsNotIdempotent(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 5, 0)))

	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}
	ctx := context.Background()

	_, h1 := limiter.Check(ctx, req)
	_, h2 := limiter.Check(ctx, req)
	first, err := strconv.Atoi(h1["X-RateLimit-Remaining"])
	require.NoError(t, err)
	second, err := strconv.Atoi(h2["X-RateLimit-Remaining"])
	require.NoError(t, err)
	assert.Less(t, second, first, "identical calls consume quota twice")
}

func TestLimiter_FallsBackWhenStoreDies(t *testing.T) {
	store := newMemStore()
	limiter := newTestLimiter(t, store)
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 10, 2)))

	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, _ := limiter.Check(ctx, req)
		require.True(t, allowed)
	}

	store.setDown(true)

	// The store outage must never surface: the decision comes from the local
	// fallback with its own fresh counting.
	allowed, headers := limiter.Check(ctx, req)
	assert.True(t, allowed)
	require.NotEmpty(t, headers)
	assert.Equal(t, "10", headers["X-RateLimit-Limit"])
	assert.NotEmpty(t, headers["X-RateLimit-Remaining"])
	assert.NotEmpty(t, headers["X-RateLimit-Reset"])

	// Recovery: the next call goes back to the shared store.
	store.setDown(false)
	allowed, _ = limiter.Check(ctx, req)
	assert.True(t, allowed)
}

func TestLimiter_FallbackDisabledFailsOpen(t *testing.T) {
	store := newMemStore()
	store.setDown(true)
	limiter := New(Config{StoreTimeout: time.Second, FallbackEnabled: false}, store, zap.NewNop())
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 1, 0)))

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Check(context.Background(), Request{Path: "/api/auth", ClientAddress: "1.2.3.4"})
		assert.True(t, allowed, "store down without fallback never blocks")
	}
}

func TestLimiter_LocalOnlyWithoutSharedStore(t *testing.T) {
	limiter := newTestLimiter(t, nil)
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 1, 0)))

	ctx := context.Background()
	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}

	allowed, _ := limiter.Check(ctx, req)
	require.True(t, allowed)
	allowed, headers := limiter.Check(ctx, req)
	assert.False(t, allowed)
	assert.NotEmpty(t, headers["Retry-After"])
	assert.True(t, limiter.StoreHealthy(ctx), "no shared store means trivially healthy")
}

func TestLimiter_StatusPeeksWithoutConsuming(t *testing.T) {
	store := newMemStore()
	limiter := newTestLimiter(t, store)
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 10, 0)))

	ctx := context.Background()
	req := Request{Path: "/api/auth", ClientAddress: "1.2.3.4"}

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, req)
	}

	status, ok := limiter.Status(ctx, req)
	require.True(t, ok)
	assert.Equal(t, 3, status.CurrentCount)
	assert.Equal(t, 7, status.Remaining)
	assert.Equal(t, "ip:1.2.3.4", status.Identifier)
	assert.Equal(t, "per_minute", status.Window)

	again, ok := limiter.Status(ctx, req)
	require.True(t, ok)
	assert.Equal(t, status.CurrentCount, again.CurrentCount, "status is non-mutating")

	_, ok = limiter.Status(ctx, Request{Path: "/unlimited"})
	assert.False(t, ok)
}

func TestLimiter_RuleMutationAtRuntime(t *testing.T) {
	limiter := newTestLimiter(t, newMemStore())
	require.NoError(t, limiter.AddRule(mustRule(t, "/api/auth", PerMinute, 1, 0)))
	require.Equal(t, 1, limiter.Rules())

	assert.Error(t, limiter.AddRule(Rule{EndpointPattern: "/x", Window: PerMinute}),
		"invalid rule must not be installed")
	assert.Equal(t, 1, limiter.Rules())

	limiter.RemoveRule("/api/auth", PerMinute)
	assert.Equal(t, 0, limiter.Rules())

	allowed, _ := limiter.Check(context.Background(), Request{Path: "/api/auth", ClientAddress: "1.2.3.4"})
	assert.True(t, allowed, "removed rule no longer limits")
}
