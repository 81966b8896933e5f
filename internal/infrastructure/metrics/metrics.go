// Package metrics provides Prometheus metrics for the sidechat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams tracks the number of provider streams in flight.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidechat_active_streams",
			Help: "Number of provider streams currently in flight",
		},
	)

	// TurnsStarted tracks the total number of turns started.
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sidechat_turns_started_total",
			Help: "Total number of conversation turns started",
		},
	)

	// TurnsCompleted tracks turns by terminal outcome.
	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidechat_turns_completed_total",
			Help: "Total number of conversation turns reaching a terminal state",
		},
		[]string{"outcome"},
	)

	// Retries tracks retry attempts, including ones dropped by the guard.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidechat_retries_total",
			Help: "Total number of retry attempts",
		},
		[]string{"result"},
	)

	// StreamEvents tracks decoded stream events by kind.
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sidechat_stream_events_total",
			Help: "Total number of decoded stream events",
		},
		[]string{"kind"},
	)

	// ReasoningDuration tracks how long the reasoning channel stayed open.
	ReasoningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sidechat_reasoning_duration_seconds",
			Help:    "Duration of the reasoning phase per answer",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// SessionWrites tracks persistence writes after the deep-equality gate.
	SessionWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sidechat_session_writes_total",
			Help: "Total number of session records persisted",
		},
	)

	// SessionWritesSkipped tracks projections identical to the stored state.
	SessionWritesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sidechat_session_writes_skipped_total",
			Help: "Total number of persistence writes skipped as unchanged",
		},
	)

	// RelayConnections tracks open relay websocket connections.
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sidechat_relay_connections",
			Help: "Number of currently open relay websocket connections",
		},
	)
)

// RecordStreamStarted increments stream start metrics.
func RecordStreamStarted() {
	TurnsStarted.Inc()
	ActiveStreams.Inc()
}

// RecordStreamFinished records a stream reaching a terminal state.
func RecordStreamFinished(outcome string) {
	TurnsCompleted.WithLabelValues(outcome).Inc()
	ActiveStreams.Dec()
}

// RecordRetry records a retry attempt and whether the guard admitted it.
func RecordRetry(result string) {
	Retries.WithLabelValues(result).Inc()
}
