package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track processing volume
var (
	DeliveriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_deliveries_processed_total",
		Help: "Total number of chainhook deliveries processed",
	})

	BlocksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_blocks_applied_total",
		Help: "Total number of blocks applied",
	})

	BlocksRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_blocks_rolled_back_total",
		Help: "Total number of blocks rolled back",
	})

	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamindexer_events_applied_total",
			Help: "Total number of events applied by type",
		},
		[]string{"event_type"},
	)

	EventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_events_skipped_total",
		Help: "Total number of duplicate or no-op events skipped",
	})

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamindexer_events_rejected_total",
			Help: "Total number of events rejected for invariant violations, by type",
		},
		[]string{"event_type"},
	)

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_decode_failures_total",
		Help: "Total number of malformed receipt events skipped by the decoder",
	})

	StreamReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_stream_replays_total",
		Help: "Total number of full per-stream replays triggered by rollback",
	})
)

// Performance metrics - Track processing speed and latency
var (
	DeliveryProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamindexer_delivery_processing_duration_seconds",
		Help:    "Time taken to process a single chainhook delivery",
		Buckets: prometheus.DefBuckets,
	})

	StoreBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamindexer_store_batch_duration_seconds",
		Help:    "Time spent inside a per-stream locked unit of work",
		Buckets: prometheus.DefBuckets,
	})
)

// State metrics - Track current system state
var (
	LastAppliedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamindexer_last_applied_block",
		Help: "Height of the most recently applied block",
	})
)

// Error metrics - Track failures
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamindexer_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component"},
	)

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamindexer_auth_failures_total",
		Help: "Total number of webhook deliveries rejected for bad authorization",
	})
)
