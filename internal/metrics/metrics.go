package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "indexwatch"

// Cache Metrics
var (
	// CacheLookups tracks cache reads by cache name and result (hit/miss/expired)
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	// CacheSweptEntries tracks entries removed by the periodic sweep
	CacheSweptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "swept_entries_total",
			Help:      "Expired cache entries removed by the background sweep",
		},
		[]string{"cache"},
	)

	// CacheEntries tracks current cache size (including not yet swept expired entries)
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		},
		[]string{"cache"},
	)
)

// Quota and Upstream Metrics
var (
	// QuotaRejections tracks requests refused by the dual-window limiter
	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "rejections_total",
			Help:      "Upstream requests refused by quota, by window",
		},
		[]string{"window"},
	)

	// UpstreamRequests tracks dispatched upstream calls by endpoint and outcome
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Upstream requests dispatched, by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// UpstreamDuration tracks upstream call latency
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
)

// Broadcast Metrics
var (
	// ConnectedClients tracks registered real-time clients
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "connected_clients",
			Help:      "Number of registered real-time clients",
		},
	)

	// SchedulerActive is 1 while the poll and heartbeat tasks are running
	SchedulerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "scheduler_active",
			Help:      "1 while the broadcast scheduler is active, 0 while idle",
		},
	)

	// MessagesSent tracks messages fanned out to clients by type
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_sent_total",
			Help:      "Messages delivered to client send buffers, by type",
		},
		[]string{"type"},
	)

	// MessagesDropped tracks messages dropped because a client buffer was full
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the client send buffer was full",
		},
	)

	// PollsSkipped tracks poll ticks skipped because the previous poll was still running
	PollsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "polls_skipped_total",
			Help:      "Poll ticks skipped while the previous poll was in progress",
		},
	)

	// PollDuration tracks how long one sequential poll over the tracked symbols takes
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll over all tracked symbols",
			Buckets:   []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
