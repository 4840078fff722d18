package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveRecorders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segment_recorder_active_recorders",
		Help: "Number of source recorders with a running control loop",
	})
	ConsecutiveErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "segment_recorder_consecutive_errors",
		Help: "Current consecutive capture failures per camera",
	}, []string{"camera"})
	IndexedSegments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segment_recorder_indexed_segments",
		Help: "Number of completed segments in the in-memory index",
	})
)

// Counters
var (
	SegmentsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_segments_finalized_total",
		Help: "Segments renamed to their final name",
	}, []string{"camera"})
	SegmentsDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_segments_discarded_total",
		Help: "Temporary files deleted for being undersized or unverifiable",
	}, []string{"camera"})
	CaptureFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_capture_failures_total",
		Help: "Capture runs that ended without a usable segment",
	}, []string{"camera"})
	RecordersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_recorder_recorders_failed_total",
		Help: "Recorders that gave up after too many consecutive failures",
	})
	ForcedSplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_forced_splits_total",
		Help: "Forced splits requested by queries, by outcome",
	}, []string{"outcome"})
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_queries_total",
		Help: "Retrieval queries by outcome",
	}, []string{"outcome"})
	ClipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_clips_total",
		Help: "Clips produced by retrieval sessions, by kind",
	}, []string{"kind"})
	RetentionDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_retention_deleted_total",
		Help: "Items removed by the retention sweeper",
	}, []string{"kind"})
	RetentionBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segment_recorder_retention_bytes_total",
		Help: "Bytes reclaimed by the retention sweeper",
	})
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segment_recorder_events_published_total",
		Help: "Lifecycle events handed to the broker, by subject and outcome",
	}, []string{"subject", "outcome"})
)

// Histograms
var (
	SegmentDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_recorder_segment_duration_seconds",
		Help:    "Wall-clock length of finalized segments",
		Buckets: []float64{1, 5, 30, 60, 120, 300, 600, 900, 1800, 3600},
	})
	QueryDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segment_recorder_query_duration_seconds",
		Help:    "Time to answer a retrieval query, including any forced split",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segment_recorder_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
