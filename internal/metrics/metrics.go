package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connections_active",
		Help: "Currently open client connections",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connections_total",
		Help: "Total client connections accepted",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_turns_total",
		Help: "Completed response turns by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	SegmentsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_segments_dispatched_total",
		Help: "Sentence segments dispatched for synthesis",
	})

	SegmentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tts_segments_failed_total",
		Help: "Sentence segments that failed synthesis and were skipped",
	})

	StreamChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_stream_chunks_total",
		Help: "Token chunks relayed from the generation stream",
	})

	MalformedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_stream_malformed_chunks_total",
		Help: "Stream lines that failed to parse and were skipped",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Sessions currently held by the registry",
	})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_evicted_total",
		Help: "Sessions removed by the inactivity sweep",
	})
)
