// localstore.go: Per-process token-bucket fallback store
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultLocalCacheSize bounds the fallback bucket map when no explicit cap is
// configured.
const DefaultLocalCacheSize = 4096

// LocalStore implements WindowStore with in-process token buckets, keyed like
// the shared store by (pattern, identifier, window class); a token bucket is
// continuous, not windowed, so the window only sets the refill rate. It is
// the degraded mode used whenever the shared store is unreachable, which means
// the effective fleet-wide quota temporarily becomes up to N× the configured
// quota across N processes.
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	lru     *lruKeys
}

// NewLocalStore constructs a LocalStore holding at most maxEntries buckets,
// evicting the least recently used beyond that. maxEntries <= 0 selects
// DefaultLocalCacheSize.
func NewLocalStore(maxEntries int) *LocalStore {
	if maxEntries <= 0 {
		maxEntries = DefaultLocalCacheSize
	}
	return &LocalStore{
		buckets: make(map[string]*TokenBucket),
		lru:     newLRUKeys(maxEntries),
	}
}

func localKey(identifier string, rule Rule) string {
	return rule.EndpointPattern + ":" + identifier + ":" + rule.Window.String()
}

// bucket returns the token bucket for the (identifier, rule) pair, lazily
// creating it at full capacity.
func (s *LocalStore) bucket(identifier string, rule Rule) *TokenBucket {
	key := localKey(identifier, rule)
	s.mu.Lock()
	defer s.mu.Unlock()
	tb, ok := s.buckets[key]
	if !ok {
		tb = NewTokenBucket(rule.Capacity(), rule.RefillRate())
		s.buckets[key] = tb
	}
	if evicted, ok := s.lru.touch(key); ok {
		delete(s.buckets, evicted)
	}
	return tb
}

// Check consumes one token from the pair's bucket. It never fails.
func (s *LocalStore) Check(_ context.Context, identifier string, rule Rule) (Decision, error) {
	tb := s.bucket(identifier, rule)
	now := time.Now()
	window := rule.Window.Duration()

	d := Decision{
		Allowed:   tb.Consume(1),
		Remaining: tb.Available(),
		Limit:     rule.MaxRequests,
		ResetAt:   now.Add(window), // approximate: buckets have no hard boundary
		Window:    rule.Window,
	}
	if !d.Allowed {
		// Time for roughly one token to regenerate, at least a second.
		retry := window / time.Duration(rule.MaxRequests)
		if retry < time.Second {
			retry = time.Second
		}
		d.RetryAfter = retry
	}
	return d, nil
}

// Peek projects current consumption without taking a token. A pair that has
// never been admitted has no bucket and reports zero; peeking must not
// allocate one or disturb the eviction order.
func (s *LocalStore) Peek(_ context.Context, identifier string, rule Rule) (int, error) {
	s.mu.Lock()
	tb, ok := s.buckets[localKey(identifier, rule)]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}
	used := rule.Capacity() - tb.Available()
	if used < 0 {
		used = 0
	}
	return used, nil
}

// Ping always succeeds: the local store cannot be down.
func (s *LocalStore) Ping(context.Context) error {
	return nil
}

// Size reports the number of live buckets.
func (s *LocalStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
