package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Ingestion metrics
	EventsAccepted  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	BatchesReceived prometheus.Counter
	BatchSize       prometheus.Histogram
	IngestLatency   prometheus.Histogram

	// Queue metrics (client SDK side)
	EventsEnqueued prometheus.Counter
	EventsDropped  *prometheus.CounterVec
	FlushAttempts  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge

	// Consent metrics
	ConsentUpdates      *prometheus.CounterVec
	ConsentChecksPassed *prometheus.CounterVec
	ConsentChecksFailed *prometheus.CounterVec

	// Aggregation metrics
	AggregatesComputed *prometheus.CounterVec
	AggregationLatency prometheus.Histogram
	EventsSkipped      prometheus.Counter

	// Realtime metrics
	RealtimeBumps     prometheus.Counter
	RealtimeConflicts prometheus.Counter
	RealtimeFailures  prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_accepted_total",
			Help: "Total number of events accepted at ingestion, labeled by event type",
		}, []string{"type"}),
		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_rejected_total",
			Help: "Total number of events rejected at ingestion, labeled by reason",
		}, []string{"reason"}),
		BatchesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_batches_received_total",
			Help: "Total number of event batches received",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_batch_size_events",
			Help:    "Distribution of received batch sizes",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_ingest_latency_seconds",
			Help:    "Latency of batch ingestion in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		EventsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_queue_events_enqueued_total",
			Help: "Total number of events enqueued on the client queue",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_queue_events_dropped_total",
			Help: "Total number of events dropped from the client queue, labeled by reason",
		}, []string{"reason"}),
		FlushAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_queue_flush_attempts_total",
			Help: "Total number of queue flush attempts, labeled by outcome",
		}, []string{"outcome"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_queue_depth",
			Help: "Current number of events buffered in the client queue",
		}),
		ConsentUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_consent_updates_total",
			Help: "Total number of consent preference updates, labeled by mechanism",
		}, []string{"mechanism"}),
		ConsentChecksPassed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_consent_checks_passed_total",
			Help: "Total number of consent checks that passed, labeled by category",
		}, []string{"category"}),
		ConsentChecksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_consent_checks_failed_total",
			Help: "Total number of consent checks that failed, labeled by category",
		}, []string{"category"}),
		AggregatesComputed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_aggregates_computed_total",
			Help: "Total number of aggregates computed, labeled by period",
		}, []string{"period"}),
		AggregationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_aggregation_latency_seconds",
			Help:    "Latency of aggregate computation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_aggregation_events_skipped_total",
			Help: "Total number of malformed events skipped during aggregation",
		}),
		RealtimeBumps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_bumps_total",
			Help: "Total number of realtime counter updates",
		}),
		RealtimeConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_conflicts_total",
			Help: "Total number of realtime counter transaction conflicts retried",
		}),
		RealtimeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulse_realtime_failures_total",
			Help: "Total number of realtime counter updates abandoned after retries",
		}),
	}
}
