// Package metrics hält die Prometheus-Kollektoren des Dienstes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegistryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_requests_total",
			Help: "Outbound registry requests by registry and outcome.",
		},
		[]string{"registry", "outcome"},
	)

	RegistryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_request_duration_seconds",
			Help:    "Latency of single registry request attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"registry"},
	)

	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citations_resolved_total",
			Help: "Resolved citations by provenance tier and evidence type.",
		},
		[]string{"tier", "evidence"},
	)

	LockedSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "citations_locked_skips_total",
			Help: "Automated writes skipped because the row was verified or attested.",
		},
	)

	CheckpointRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_runs_total",
			Help: "Re-verification checkpoint runs by outcome.",
		},
		[]string{"outcome"},
	)

	SweepUpgrades = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_upgrades_total",
			Help: "Tier D rows upgraded by the scheduled sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(RegistryRequests, RegistryLatency, Resolutions, LockedSkips, CheckpointRuns, SweepUpgrades)
}
