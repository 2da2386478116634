package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tekagg"

var (
	CacheLookups = promauto.NewCounterVec(CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Group state cache lookups by outcome (mem_hit, disk_hit, mirror_hit, miss, mismatch, corrupt).",
	}, []string{"outcome"})

	CacheWrites = promauto.NewCounterVec(CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_total",
		Help:      "Group state cache writes by result.",
	}, []string{"result"})

	RemoteRequests = promauto.NewCounterVec(CounterOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "requests_total",
		Help:      "Remote aggregation requests by side (client, server) and result.",
	}, []string{"side", "result"})

	RemoteDuration = promauto.NewHistogramVec(HistogramOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "request_duration_seconds",
		Help:      "Duration of remote aggregation requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"side"})

	MergeSourceFailures = promauto.NewCounter(CounterOpts{
		Namespace: namespace,
		Subsystem: "merge",
		Name:      "source_failures_total",
		Help:      "Merge sources which failed to accumulate.",
	})

	RowsScanned = promauto.NewCounter(CounterOpts{
		Namespace: namespace,
		Subsystem: "groupby",
		Name:      "rows_scanned_total",
		Help:      "Rows scanned by local group by tasks.",
	})
)
