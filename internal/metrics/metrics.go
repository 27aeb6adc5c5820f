// Package metrics registers the core's Prometheus gauges and counters,
// grounded on the promauto-registered counter/histogram/gauge shape other
// orchestrator-style services in the pack use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the core exposes on /metrics.
type Metrics struct {
	TickDuration        prometheus.Histogram
	TickUnitsTotal       *prometheus.CounterVec
	RateLimiterWaitTime  prometheus.Histogram
	WatchdogTripsTotal   prometheus.Counter
	ShadowTradesTotal    *prometheus.CounterVec
	RegimeSyncErrors     prometheus.Counter
	ConsensusScore       prometheus.Histogram
}

// New registers every instrument against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid double-registration against
// the global default registry; production wiring passes
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading_core",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one Heartbeat Scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		TickUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "tick_units_total",
			Help:      "Per-tick unit outcomes by result.",
		}, []string{"outcome"}),
		RateLimiterWaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading_core",
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time a unit waited on the write-rate limiter.",
			Buckets:   prometheus.DefBuckets,
		}),
		WatchdogTripsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "watchdog_trips_total",
			Help:      "Number of kill-switch trips triggered by the watchdog.",
		}),
		ShadowTradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "shadow_trades_total",
			Help:      "Shadow trades opened, by side.",
		}, []string{"side"}),
		RegimeSyncErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trading_core",
			Name:      "regime_sync_errors_total",
			Help:      "Errors encountered syncing the GEX regime engine.",
		}),
		ConsensusScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading_core",
			Name:      "consensus_score",
			Help:      "Winning action's consensus score per tick.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}
