// Package metrics provides Prometheus metrics for the meter daemon.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Polling metrics.
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgmeter",
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total router polls by outcome (ok, error, skipped).",
	}, []string{"outcome"})
	PollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wgmeter",
		Subsystem: "poll",
		Name:      "duration_seconds",
		Help:      "Duration of one router poll.",
		Buckets:   prometheus.DefBuckets,
	})
	RouterReachable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wgmeter",
		Subsystem: "router",
		Name:      "reachable",
		Help:      "Whether the last poll of the router succeeded (1) or not (0).",
	}, []string{"router"})

	// Accounting metrics.
	PeersTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wgmeter",
		Subsystem: "peers",
		Name:      "tracked",
		Help:      "Number of peers selected for accounting.",
	})
	BytesAccounted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgmeter",
		Subsystem: "usage",
		Name:      "bytes_total",
		Help:      "Total bytes accounted across all peers.",
	}, []string{"direction"}) // "rx" or "tx"

	// Enforcement metrics.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wgmeter",
		Subsystem: "enforce",
		Name:      "actions_total",
		Help:      "Enforcement transitions attempted, by action kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		PollsTotal,
		PollDuration,
		RouterReachable,
		PeersTracked,
		BytesAccounted,
		ActionsTotal,
	)
}
