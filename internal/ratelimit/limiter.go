// Package ratelimit provides the distributed, multi-tier rate limiting engine:
// per-endpoint quotas measured across multiple time windows, shared
// consistently across processes through Redis, with automatic degradation to
// per-process token-bucket limiting when the shared store is unavailable.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("ratelimitd/engine")

// DefaultStoreTimeout bounds each shared-store call so a slow or down store
// cannot stall request handling. Timeout expiry is treated identically to a
// connection error.
const DefaultStoreTimeout = 2 * time.Second

// Config holds the engine's operating parameters. Rules are installed
// separately via AddRule.
type Config struct {
	StoreTimeout    time.Duration
	FallbackEnabled bool
	LocalCacheSize  int
}

// Limiter is the single entry point for admission decisions. Construct it
// explicitly and inject it into the transport adapter; there is no package
// singleton.
type Limiter struct {
	table   *RuleTable
	shared  WindowStore // nil when no shared store is configured
	local   *LocalStore
	timeout time.Duration
	// fallback disabled means store outages fail open instead of degrading
	// to per-process counting
	fallback bool
	logger   *zap.Logger
}

// New constructs a Limiter. shared may be nil, in which case every check runs
// against the local store.
func New(cfg Config, shared WindowStore, logger *zap.Logger) *Limiter {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		table:    NewRuleTable(),
		shared:   shared,
		local:    NewLocalStore(cfg.LocalCacheSize),
		timeout:  cfg.StoreTimeout,
		fallback: cfg.FallbackEnabled,
		logger:   logger,
	}
}

// AddRule validates and installs a rule.
func (l *Limiter) AddRule(rule Rule) error {
	validated, err := NewRule(rule.EndpointPattern, rule.Window, rule.MaxRequests, rule.Burst, rule.Description)
	if err != nil {
		return err
	}
	l.table.Add(validated)
	activeRules.Set(float64(l.table.Len()))
	l.logger.Info("rate limit rule installed",
		zap.String("endpoint", validated.EndpointPattern),
		zap.String("window", validated.Window.String()),
		zap.Int("max_requests", validated.MaxRequests),
		zap.Int("burst", validated.Burst))
	return nil
}

// RemoveRule uninstalls the rule for the pattern and window class.
func (l *Limiter) RemoveRule(pattern string, window Window) {
	l.table.Remove(pattern, window)
	activeRules.Set(float64(l.table.Len()))
	l.logger.Info("rate limit rule removed",
		zap.String("endpoint", pattern),
		zap.String("window", window.String()))
}

// Rules reports how many rules are installed.
func (l *Limiter) Rules() int {
	return l.table.Len()
}

// Check decides whether to admit the request and renders the decision
// metadata as response headers. Every matching rule is evaluated and charged
// independently; the request is admitted only when all of them allow (the
// most restrictive rule wins). Not idempotent: call exactly once per request.
//
// No store failure ever escapes: a shared-store error degrades that single
// call to the local fallback (or fails open when fallback is disabled), and
// the next call attempts the shared store again.
func (l *Limiter) Check(ctx context.Context, req Request) (bool, map[string]string) {
	ctx, span := tracer.Start(ctx, "ratelimit.Check")
	defer span.End()

	identifier := Identity(req)
	span.SetAttributes(
		attribute.String("ratelimit.endpoint", req.Path),
		attribute.String("ratelimit.identity_type", identityType(identifier)),
	)

	rules := l.table.Find(req.Path)
	if len(rules) == 0 {
		checksTotal.WithLabelValues("allowed", modeOpen).Inc()
		span.SetAttributes(attribute.Bool("ratelimit.allowed", true))
		return true, nil
	}

	allowed := true
	var decisions []Decision
	for _, rule := range rules {
		d, ok := l.checkRule(ctx, identifier, rule)
		if !ok {
			// Store down with fallback disabled: this rule imposes nothing.
			continue
		}
		decisions = append(decisions, d)
		if !d.Allowed {
			allowed = false
		}
	}
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
	if len(decisions) == 0 {
		return true, nil
	}
	return allowed, renderHeaders(reportingDecision(decisions))
}

// checkRule evaluates one rule, shared store first. The second return is
// false only when no decision could be produced at all.
func (l *Limiter) checkRule(ctx context.Context, identifier string, rule Rule) (Decision, bool) {
	start := time.Now()
	if l.shared != nil {
		storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
		d, err := l.shared.Check(storeCtx, identifier, rule)
		cancel()
		if err == nil {
			checkDuration.WithLabelValues(modeShared).Observe(time.Since(start).Seconds())
			checksTotal.WithLabelValues(result(d.Allowed), modeShared).Inc()
			return d, true
		}
		var storeErr *StoreError
		if errors.As(err, &storeErr) {
			storeErrors.WithLabelValues(storeErr.Op).Inc()
		} else {
			storeErrors.WithLabelValues("unknown").Inc()
		}
		l.logger.Warn("shared store check failed, using local fallback",
			zap.String("identifier", identifier),
			zap.String("endpoint", rule.EndpointPattern),
			zap.Error(err))
		if !l.fallback {
			checksTotal.WithLabelValues("allowed", modeOpen).Inc()
			return Decision{}, false
		}
	}
	d, _ := l.local.Check(ctx, identifier, rule) // never fails
	checkDuration.WithLabelValues(modeLocal).Observe(time.Since(start).Seconds())
	checksTotal.WithLabelValues(result(d.Allowed), modeLocal).Inc()
	return d, true
}

// reportingDecision picks which decision speaks for the whole check: the
// denial with the least remaining capacity when any rule denied, otherwise
// the tightest allowance.
func reportingDecision(decisions []Decision) Decision {
	report := decisions[0]
	anyDenied := !report.Allowed
	for _, d := range decisions[1:] {
		if !d.Allowed && !anyDenied {
			report = d
			anyDenied = true
			continue
		}
		if d.Allowed == report.Allowed && d.Remaining < report.Remaining {
			report = d
		}
	}
	return report
}

func renderHeaders(d Decision) map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(d.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(d.ResetAt.Unix(), 10),
		"X-RateLimit-Type":      d.Window.String(),
	}
	if !d.Allowed {
		headers["Retry-After"] = strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds())))
	}
	return headers
}

func result(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func identityType(identifier string) string {
	if i := strings.IndexByte(identifier, ':'); i > 0 {
		return identifier[:i]
	}
	return "unknown"
}

// Status is the read-only introspection view of a request's standing.
type Status struct {
	Endpoint     string `json:"endpoint"`
	Identifier   string `json:"identifier"`
	CurrentCount int    `json:"current_count"`
	Limit        int    `json:"limit"`
	Window       string `json:"window"`
	Remaining    int    `json:"remaining"`
}

// Status performs a non-mutating peek for the most restrictive rule matching
// the request. The boolean is false when no rule governs the path.
func (l *Limiter) Status(ctx context.Context, req Request) (Status, bool) {
	identifier := Identity(req)
	rules := l.table.Find(req.Path)
	if len(rules) == 0 {
		return Status{}, false
	}

	var report *Status
	for _, rule := range rules {
		count, err := l.peekRule(ctx, identifier, rule)
		if err != nil {
			continue
		}
		remaining := rule.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		if report == nil || remaining < report.Remaining {
			report = &Status{
				Endpoint:     rule.EndpointPattern,
				Identifier:   identifier,
				CurrentCount: count,
				Limit:        rule.MaxRequests,
				Window:       rule.Window.String(),
				Remaining:    remaining,
			}
		}
	}
	if report == nil {
		return Status{}, false
	}
	return *report, true
}

func (l *Limiter) peekRule(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l.shared != nil {
		storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
		count, err := l.shared.Peek(storeCtx, identifier, rule)
		cancel()
		if err == nil {
			return count, nil
		}
		l.logger.Warn("shared store peek failed, using local projection",
			zap.String("identifier", identifier),
			zap.Error(err))
		if !l.fallback {
			return 0, err
		}
	}
	return l.local.Peek(ctx, identifier, rule)
}

// StoreHealthy reports shared-store liveness for health endpoints. A limiter
// without a shared store is trivially healthy in local mode.
func (l *Limiter) StoreHealthy(ctx context.Context) bool {
	if l.shared == nil {
		return true
	}
	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.shared.Ping(storeCtx) == nil
}
