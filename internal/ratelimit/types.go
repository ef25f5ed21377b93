// types.go: Core types, enums, and interfaces for rate limiting
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Window enumerates the supported time-window classes. Each maps to a fixed
// duration used both for token-bucket refill and sliding-window sizing.
type Window int

const (
	PerSecond Window = iota
	PerMinute
	PerHour
	PerDay
)

// Duration returns the fixed duration of the window class.
func (w Window) Duration() time.Duration {
	switch w {
	case PerSecond:
		return time.Second
	case PerMinute:
		return time.Minute
	case PerHour:
		return time.Hour
	case PerDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func (w Window) String() string {
	switch w {
	case PerSecond:
		return "per_second"
	case PerMinute:
		return "per_minute"
	case PerHour:
		return "per_hour"
	case PerDay:
		return "per_day"
	default:
		return "unknown"
	}
}

// ParseWindow converts a config string ("per_minute", "per_hour", ...) into a
// Window. Unrecognized values are a configuration error.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "per_second":
		return PerSecond, nil
	case "per_minute":
		return PerMinute, nil
	case "per_hour":
		return PerHour, nil
	case "per_day":
		return PerDay, nil
	default:
		return 0, fmt.Errorf("unknown rate limit window %q", s)
	}
}

// Rule is an immutable rate limit rule for one endpoint pattern and one
// window class. Multiple rules may exist for the same pattern across
// different window classes; each is evaluated independently.
type Rule struct {
	EndpointPattern string
	Window          Window
	MaxRequests     int
	Burst           int
	Description     string
}

// NewRule validates and constructs a Rule. A broken rule is a deployment-time
// defect: the error propagates and the rule must not be installed.
func NewRule(pattern string, window Window, maxRequests, burst int, description string) (Rule, error) {
	if pattern == "" {
		return Rule{}, fmt.Errorf("endpoint pattern must not be empty")
	}
	if maxRequests <= 0 {
		return Rule{}, fmt.Errorf("max requests must be positive, got %d", maxRequests)
	}
	if burst < 0 {
		return Rule{}, fmt.Errorf("burst must be non-negative, got %d", burst)
	}
	if window < PerSecond || window > PerDay {
		return Rule{}, fmt.Errorf("unknown window class %d", window)
	}
	return Rule{
		EndpointPattern: pattern,
		Window:          window,
		MaxRequests:     maxRequests,
		Burst:           burst,
		Description:     description,
	}, nil
}

// Capacity is the local token-bucket capacity: quota plus instantaneous burst.
func (r Rule) Capacity() int {
	return r.MaxRequests + r.Burst
}

// RefillRate is the token-bucket refill rate in tokens per second.
func (r Rule) RefillRate() float64 {
	return float64(r.MaxRequests) / r.Window.Duration().Seconds()
}

// Request is the abstract inbound request descriptor consumed by the limiter.
// It is deliberately decoupled from net/http so the engine can sit behind any
// transport adapter.
type Request struct {
	Method        string
	Path          string
	ClientAddress string
	UserID        string // set by an upstream auth layer, empty if anonymous
	APIKey        string
}

// Decision is the ephemeral result of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration // zero unless denied
	Window     Window
}

// WindowStore answers whether an (identifier, rule) pair is within quota for
// the current window. The shared implementation coordinates limits across
// processes; the local implementation is the degraded per-process fallback.
type WindowStore interface {
	// Check records this request against the window and returns the
	// admission decision. Not idempotent: every call consumes quota.
	Check(ctx context.Context, identifier string, rule Rule) (Decision, error)

	// Peek returns the current window count without recording anything.
	Peek(ctx context.Context, identifier string, rule Rule) (int, error)

	// Ping probes store liveness.
	Ping(ctx context.Context) error
}

// StoreError wraps a failure from the shared window store. The orchestrator
// matches on it to route the call to the local fallback; it never escapes
// Limiter.Check.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("window store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
