// ABOUTME: Prometheus collectors for the conversation gateway
// ABOUTME: Registered on the default registry and exposed by the gateway's metrics endpoint

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation run outcomes
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeCancelled   = "cancelled"
	OutcomeFailed      = "failed"
)

var (
	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_events_emitted_total",
		Help: "Sequenced events emitted grouped by event type",
	}, []string{"type"})

	deliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_delivery_failures_total",
		Help: "Events persisted but not delivered because the live connection was gone",
	})

	replayAppendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_replay_append_errors_total",
		Help: "Events that could not be written to the replay store",
	})

	replayedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "converse_replayed_events_total",
		Help: "Events resent to reconnecting clients",
	})

	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_frames_rejected_total",
		Help: "Inbound frames rejected grouped by reason",
	}, []string{"reason"})

	conversationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "converse_conversations_active",
		Help: "Conversations currently held in the registry",
	})

	generationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_generation_runs_total",
		Help: "Generation runs grouped by outcome",
	}, []string{"outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "converse_generation_duration_seconds",
		Help:    "Wall time of generation runs grouped by outcome",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"outcome"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "converse_state_transitions_total",
		Help: "Conversation state changes grouped by source and target state",
	}, []string{"from", "to"})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "converse_connections_active",
		Help: "Live chat stream connections",
	})
)

// ObserveEmitted records one sequenced event and whether it reached the client.
func ObserveEmitted(eventType string, delivered bool) {
	eventsEmitted.WithLabelValues(eventType).Inc()
	if !delivered {
		deliveryFailures.Inc()
	}
}

// ObserveAppendError records a failed replay store write.
func ObserveAppendError() {
	replayAppendErrors.Inc()
}

// ObserveReplayed records events resent by a resume.
func ObserveReplayed(n int) {
	replayedEvents.Add(float64(n))
}

// ObserveRejectedFrame records an inbound frame that could not be handled.
func ObserveRejectedFrame(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	framesRejected.WithLabelValues(reason).Inc()
}

// SetConversations reports the registry size.
func SetConversations(n int) {
	conversationsActive.Set(float64(n))
}

// ObserveGeneration records a finished generation run.
func ObserveGeneration(outcome string, duration time.Duration) {
	generationRuns.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveTransition records one conversation state change.
func ObserveTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// ConnectionOpened increments the live connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() { connectionsActive.Dec() }
