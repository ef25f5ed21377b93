// metrics.go: Prometheus metrics for the rate limiting engine
package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratelimitd",
			Subsystem: "engine",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks",
		},
		[]string{"result", "mode"},
	)

	checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ratelimitd",
			Subsystem: "engine",
			Name:      "check_duration_seconds",
			Help:      "Time spent checking rate limits",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ratelimitd",
			Subsystem: "engine",
			Name:      "store_errors_total",
			Help:      "Total number of shared store errors routed to local fallback",
		},
		[]string{"op"},
	)

	activeRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ratelimitd",
			Subsystem: "engine",
			Name:      "active_rules",
			Help:      "Number of installed rate limit rules",
		},
	)
)

const (
	modeShared = "shared"
	modeLocal  = "local"
	modeOpen   = "open"
)
