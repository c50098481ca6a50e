package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency on the admin surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "anvil",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// PeersUp reports whether each configured peer currently has a live handle
// (1) or not (0).
var PeersUp = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "anvil",
		Subsystem: "peer",
		Name:      "up",
		Help:      "1 if the peer handle is live, 0 otherwise.",
	},
	[]string{"peer"},
)

// DriftRowsTotal records, per table per peer, the row_count reading of the
// most recent drift scan (the number of distinct modified_date seconds).
var DriftRowsTotal = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "anvil",
		Subsystem: "drift",
		Name:      "rows",
		Help:      "Row count reading (distinct modified_date seconds) of a table on a peer as of the last drift scan.",
	},
	[]string{"peer", "table"},
)

// ResyncRowsAppliedTotal counts rows written by the resync engine.
var ResyncRowsAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "anvil",
		Subsystem: "resync",
		Name:      "rows_applied_total",
		Help:      "Total rows inserted or updated by the resync engine, by peer and operation.",
	},
	[]string{"peer", "op"},
)

// JobDuration tracks job execution time from claim to completion.
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "anvil",
		Subsystem: "job",
		Name:      "duration_seconds",
		Help:      "Job execution duration in seconds, from claim to completion.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	},
	[]string{"command", "status"},
)

// JobsClaimedTotal counts successful job claims.
var JobsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "anvil",
		Subsystem: "job",
		Name:      "claimed_total",
		Help:      "Total number of jobs successfully claimed.",
	},
	[]string{"command"},
)

// LockHolderAgeSeconds reports how long the current advisory lock, if any,
// has been held.
var LockHolderAgeSeconds = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "anvil",
		Subsystem: "lock",
		Name:      "holder_age_seconds",
		Help:      "Seconds since the current lock holder acquired the lock.",
	},
	[]string{"name"},
)

// ArchiveRowsPurgedTotal counts history rows removed by the archiver.
var ArchiveRowsPurgedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "anvil",
		Subsystem: "archive",
		Name:      "rows_purged_total",
		Help:      "Total history rows purged by the archiver, by table.",
	},
	[]string{"table"},
)

// All returns all Anvil-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PeersUp,
		DriftRowsTotal,
		ResyncRowsAppliedTotal,
		JobDuration,
		JobsClaimedTotal,
		LockHolderAgeSeconds,
		ArchiveRowsPurgedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
