// tokenbucket.go: Token bucket algorithm implementation
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe, in-memory token bucket rate limiter
// with continuous refill and burst capacity. Pure computation, no background
// timer.
type TokenBucket struct {
	capacity   int        // max tokens
	tokens     float64    // current tokens (float for partial refill)
	rate       float64    // tokens per second
	lastRefill time.Time  // last refill timestamp
	now        func() time.Time
	mu         sync.Mutex // protects state
}

// NewTokenBucket creates a new token bucket with the given capacity and refill
// rate (tokens per second). The bucket starts full.
func NewTokenBucket(capacity int, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		rate:       rate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Consume attempts to take n tokens. Returns true if allowed, false if rate
// limited. A failed consume still applies the refill projection.
func (tb *TokenBucket) Consume(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Available returns the number of tokens left (rounded down) after applying
// the refill projection, without consuming.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked()
	return int(tb.tokens)
}

// refillLocked refills tokens based on elapsed time. Caller must hold tb.mu.
// A clock that moved backward yields zero refill, never a negative one.
func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > float64(tb.capacity) {
			tb.tokens = float64(tb.capacity)
		}
	}
	tb.lastRefill = now
}
