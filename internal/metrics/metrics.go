// Package metrics declares the prometheus counters shared across the
// subsystem. Counters register themselves via promauto; serve mode exposes
// them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheRequests counts intercepted requests by strategy and outcome.
	// Outcomes: network, cache_hit, cache_fallback, offline_fallback,
	// synthesized, passthrough.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frigo_cache_requests_total",
			Help: "Intercepted requests by caching strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// WorkerTransitions counts lifecycle state transitions per target state.
	WorkerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frigo_worker_transitions_total",
			Help: "Cache-lifecycle worker state transitions",
		},
		[]string{"state"},
	)

	// ImportRuns counts import operations by mode and result.
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frigo_import_runs_total",
			Help: "Snapshot import operations",
		},
		[]string{"mode", "result"},
	)

	// ImportItems counts per-record import outcomes: written, duplicate,
	// missing_key.
	ImportItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frigo_import_items_total",
			Help: "Per-record snapshot import outcomes",
		},
		[]string{"result"},
	)

	// StoreOps counts record-store operations by op and result.
	StoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frigo_store_ops_total",
			Help: "Record store operations",
		},
		[]string{"op", "result"},
	)
)

// Observe increments a CounterVec with an ok/error result label.
func Observe(vec *prometheus.CounterVec, label string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	vec.WithLabelValues(label, result).Inc()
}
