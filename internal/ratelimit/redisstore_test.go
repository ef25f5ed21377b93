package ratelimit

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowKey_ShardsByRuleIdentityAndWindow(t *testing.T) {
	rule := mustRule(t, "/api/auth", PerMinute, 10, 0)

	key := windowKey("ip:1.2.3.4", rule)
	assert.Equal(t, "ratelimit:/api/auth:ip:1.2.3.4:per_minute", key)

	// The key is stable over time: requests on either side of a minute
	// boundary land in the same sorted set, so the trailing-window count
	// never restarts at a boundary.
	assert.Equal(t, key, windowKey("ip:1.2.3.4", rule))

	// Different identity or window class: different key.
	assert.NotEqual(t, key, windowKey("ip:5.6.7.8", rule))
	hourly := mustRule(t, "/api/auth", PerHour, 10, 0)
	assert.NotEqual(t, key, windowKey("ip:1.2.3.4", hourly))
}

func TestStoreError_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := &StoreError{Op: "check", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "check")
	assert.Contains(t, err.Error(), "connection refused")

	var storeErr *StoreError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &storeErr))
	assert.Equal(t, "check", storeErr.Op)
}
