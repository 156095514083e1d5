package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission metrics
	EventsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causeway_events_admitted_total",
			Help: "Total number of events admitted into the correlation window",
		},
		[]string{"source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causeway_events_rejected_total",
			Help: "Total number of events rejected at admission",
		},
		[]string{"reason"},
	)

	WindowEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "causeway_window_events",
			Help: "Events currently held in each partition's window buffer",
		},
		[]string{"partition"},
	)

	// Correlation metrics
	CorrelationsPromoted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causeway_correlations_promoted_total",
			Help: "Total number of correlation groups promoted past the strength threshold",
		},
		[]string{"type"},
	)

	CorrelationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causeway_correlations_suppressed_total",
			Help: "Total number of candidate groups suppressed by the dedup registry",
		},
	)

	PatternMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causeway_pattern_matches_total",
			Help: "Total number of groups classified by a registered pattern",
		},
		[]string{"pattern"},
	)

	// Anomaly metrics
	AnomaliesFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "causeway_anomalies_flagged_total",
			Help: "Total number of events flagged as statistically anomalous",
		},
		[]string{"category"},
	)

	// Graph metrics
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "causeway_graph_nodes",
			Help: "Nodes currently in the event graph",
		},
	)

	GraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "causeway_graph_edges",
			Help: "Edges currently in the event graph",
		},
	)

	// Output metrics
	OutputQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "causeway_output_queue_depth",
			Help: "Current depth of the finding output queue",
		},
	)

	StoreWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "causeway_store_write_duration_seconds",
			Help:    "Duration of correlation store appends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causeway_store_retries_total",
			Help: "Total number of retried correlation store appends",
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "causeway_publish_errors_total",
			Help: "Total number of failed finding publishes to the message bus",
		},
	)

	// Engine processing metrics
	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "causeway_process_duration_seconds",
			Help:    "Duration of per-event correlation processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
