// Package metrics defines the Prometheus metrics exported by each of
// meetbot's four services, in the promauto package-level-var style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Controller metrics
	BotsLaunched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_bots_launched_total",
			Help: "Total number of bot launch requests accepted",
		},
		[]string{"platform"},
	)

	BotLaunchRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_bots_launch_rejected_total",
			Help: "Total number of bot launch requests rejected",
		},
		[]string{"platform", "reason"},
	)

	MeetingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_meeting_transitions_total",
			Help: "Total number of FSM transitions applied",
		},
		[]string{"from", "to", "source"},
	)

	MeetingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meetbot_meeting_duration_seconds",
			Help:    "Wall-clock duration of a meeting from start_time to end_time",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
	)

	ReconcilerRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_reconciler_runs_total",
			Help: "Total number of orphan-reconciliation sweeps executed",
		},
	)

	ReconcilerFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_reconciler_finalized_total",
			Help: "Total number of meetings finalized by the orphan reconciler",
		},
		[]string{"outcome"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"outcome"},
	)

	// Collector metrics
	SegmentsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_segments_flushed_total",
			Help: "Total number of transcript segments flushed to durable storage",
		},
	)

	SegmentsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_segments_filtered_total",
			Help: "Total number of candidate segments rejected by the filter pipeline",
		},
		[]string{"reason"},
	)

	MutablePublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_mutable_publishes_total",
			Help: "Total number of transcript.mutable events published",
		},
	)

	StreamMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_stream_messages_processed_total",
			Help: "Total number of consumer-group stream messages processed",
		},
		[]string{"stream", "outcome"},
	)

	StaleClaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_stream_stale_claims_total",
			Help: "Total number of pending entries reclaimed by the stale claimer",
		},
	)

	SpeakerMappingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_speaker_mapping_outcomes_total",
			Help: "Total number of speaker-to-segment mapping attempts by outcome",
		},
		[]string{"status"},
	)

	// Recognizer metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetbot_recognizer_active_sessions",
			Help: "Current number of active recognition sessions",
		},
	)

	SegmentsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_recognizer_segments_emitted_total",
			Help: "Total number of segments emitted to clients and streams",
		},
		[]string{"completed"},
	)

	HallucinationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_recognizer_hallucinations_dropped_total",
			Help: "Total number of segments dropped by the hallucination filter",
		},
	)

	CircuitBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_recognizer_circuit_breaker_trips_total",
			Help: "Total number of speaker-ground-truth stall circuit breaker trips",
		},
	)

	// Gateway metrics
	GatewayClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetbot_gateway_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	GatewaySubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetbot_gateway_subscriptions",
			Help: "Current number of active per-meeting subscriptions across all clients",
		},
	)

	GatewayFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_gateway_frames_dropped_total",
			Help: "Total number of upstream frames dropped due to a slow client",
		},
		[]string{"reason"},
	)

	GatewayAuthorizeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_gateway_authorize_failures_total",
			Help: "Total number of failed calls to the collector's authorize-subscribe endpoint",
		},
	)
)
