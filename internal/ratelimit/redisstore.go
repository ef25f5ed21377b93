// redisstore.go: Redis-backed sliding-window log shared across processes
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyGrace pads the key TTL past the window so a key never expires while it
// can still influence a decision.
const keyGrace = 10 * time.Second

// slidingWindowScript runs the whole purge-count-insert-expire sequence as one
// atomic server-side operation, so concurrent callers against the same key are
// serialized by Redis itself. The insert is unconditional: a rejected request
// still consumes a slot in the window, which biases toward stricter
// enforcement under contention and keeps the check lock-free. The returned
// count excludes the just-inserted entry.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local member = ARGV[3]
local ttl = tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local count = redis.call('ZCARD', key)
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return count
`)

// RedisStore implements WindowStore on a shared Redis instance, realizing a
// sliding-window log: individual request timestamps rather than a bucketed
// counter, so the admitted count over the trailing window is always exact and
// window-boundary bursts cannot double the effective quota.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromOptions dials Redis with the given connection settings.
func NewRedisStoreFromOptions(addr, password string, db int) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// windowKey shards store state by rule and identity. The key deliberately
// carries no discrete time component: rotating keys per window index would
// restart the count at every boundary and re-admit a full quota seconds after
// the last one, which is the fixed-window failure the sliding log exists to
// prevent. The purge in the script plus the TTL bound the set instead.
func windowKey(identifier string, rule Rule) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", rule.EndpointPattern, identifier, rule.Window)
}

// Check executes the atomic sliding-window pipeline and derives the decision
// from the count before this request's own entry.
func (s *RedisStore) Check(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	now := time.Now()
	window := rule.Window.Duration()
	windowStart := now.Add(-window).UnixMicro()
	member := strconv.FormatInt(now.UnixMicro(), 10) + "-" + uuid.NewString()
	ttl := int64((window + keyGrace).Seconds())

	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{windowKey(identifier, rule)},
		windowStart, now.UnixMicro(), member, ttl,
	).Int64()
	if err != nil {
		return Decision{}, &StoreError{Op: "check", Err: err}
	}

	count := int(res)
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
		// Conservative hint: the full window, not the time until the oldest
		// entry expires.
		d.RetryAfter = window
	}
	return d, nil
}

// Peek counts the current window without recording anything.
func (s *RedisStore) Peek(ctx context.Context, identifier string, rule Rule) (int, error) {
	now := time.Now()
	windowStart := now.Add(-rule.Window.Duration()).UnixMicro()
	count, err := s.client.ZCount(ctx, windowKey(identifier, rule),
		"("+strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(now.UnixMicro(), 10),
	).Result()
	if err != nil {
		return 0, &StoreError{Op: "peek", Err: err}
	}
	return int(count), nil
}

// Ping probes the shared store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
