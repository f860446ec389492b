// Package telemetry holds the Prometheus collectors and OpenTelemetry tracing
// helpers used across inteldesk.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inteldesk"

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Retriever lookups answered from the cache.",
	}, []string{"cache"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Retriever lookups that had to wait for a fetch.",
	}, []string{"cache"})
	CacheFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fetches_total",
		Help:      "Fetches started by retrievers.",
	}, []string{"cache"})
	CacheFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fetch_failures_total",
		Help:      "Retriever fetches that returned an error.",
	}, []string{"cache"})
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries removed by age-based sweeps.",
	}, []string{"cache"})

	FeedSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "subscriptions_active",
		Help:      "Underlying per-operation feed subscriptions currently open.",
	})
	FeedPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "pushes_total",
		Help:      "Open delivery snapshots received from the feed.",
	}, []string{"result"})

	OpenDeliveries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "deliveries",
		Name:      "open",
		Help:      "Open deliveries across all subscribed operations.",
	})
	AutoSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deliveries",
		Name:      "auto_selections_total",
		Help:      "Automatic selections by strategy.",
	}, []string{"strategy"})
	EnrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deliveries",
		Name:      "enrichment_failures_total",
		Help:      "Detail fields that could not be resolved.",
	}, []string{"field", "reason"})

	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "requests_total",
		Help:      "Request/reply calls to the directory by subject and result.",
	}, []string{"subject", "result"})
	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "request_duration_seconds",
		Help:      "Latency of request/reply calls including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"subject"})

	DirectoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "requests_total",
		Help:      "Lookup and action requests served by the directory.",
	}, []string{"subject", "result"})
	DirectorySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "snapshots_published_total",
		Help:      "Open delivery snapshots published to consoles.",
	}, []string{"result"})
	DirectoryWatchedOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "directory",
		Name:      "watched_operations",
		Help:      "Operations at least one console asked to receive pushes for.",
	})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route pattern and status code.",
	}, []string{"method", "route", "code"})
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "stream_clients",
		Help:      "Connected websocket stream clients.",
	})
)
