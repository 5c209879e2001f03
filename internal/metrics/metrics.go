// Package metrics defines Prometheus metrics for the alert engine.
//
// All metrics are registered with the default registry and served on the
// /metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - klaxon_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsCreatedTotal counts created alerts by source type.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_alerts_created_total",
			Help: "Total number of alerts created, by source type.",
		},
		[]string{"source_type"},
	)

	// AlertsEscalatedTotal counts rule-triggered escalations by source type.
	AlertsEscalatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_alerts_escalated_total",
			Help: "Total number of alerts escalated by count-in-window rules.",
		},
		[]string{"source_type"},
	)

	// AlertsAutoClosedTotal counts auto-closures by trigger (rule or expiry).
	AlertsAutoClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_alerts_auto_closed_total",
			Help: "Total number of alerts auto-closed, by trigger.",
		},
		[]string{"trigger"},
	)

	// AlertsResolvedTotal counts manual resolutions.
	AlertsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_alerts_resolved_total",
			Help: "Total number of alerts resolved manually.",
		},
	)

	// ScannerRunsTotal counts auto-close scanner passes by terminal status.
	ScannerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaxon_scanner_runs_total",
			Help: "Total number of auto-close scanner passes, by status.",
		},
		[]string{"status"},
	)

	// ScannerDurationSeconds is a histogram of scanner pass duration.
	ScannerDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "klaxon_scanner_duration_seconds",
			Help:    "Duration of auto-close scanner passes in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// RuleCacheHits counts active-rule snapshot cache hits.
	RuleCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_rule_cache_hits_total",
			Help: "Active-rule cache hits.",
		},
	)

	// RuleCacheMisses counts active-rule snapshot cache misses.
	RuleCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "klaxon_rule_cache_misses_total",
			Help: "Active-rule cache misses.",
		},
	)
)
