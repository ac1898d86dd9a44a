// ABOUTME: Tests for the gateway Prometheus collectors
// ABOUTME: Reads collector values back through their protobuf snapshots

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric %v", m.Desc())
	return 0
}

func TestObserveEmitted(t *testing.T) {
	beforeToken := value(t, eventsEmitted.WithLabelValues("token"))
	beforeFailures := value(t, deliveryFailures)

	ObserveEmitted("token", true)
	ObserveEmitted("token", false)

	assert.Equal(t, beforeToken+2, value(t, eventsEmitted.WithLabelValues("token")))
	assert.Equal(t, beforeFailures+1, value(t, deliveryFailures))
}

func TestObserveRejectedFrame_DefaultsReason(t *testing.T) {
	before := value(t, framesRejected.WithLabelValues("unknown"))
	ObserveRejectedFrame("")
	assert.Equal(t, before+1, value(t, framesRejected.WithLabelValues("unknown")))
}

func TestGauges(t *testing.T) {
	SetConversations(3)
	assert.Equal(t, float64(3), value(t, conversationsActive))

	before := value(t, connectionsActive)
	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	assert.Equal(t, before+1, value(t, connectionsActive))
}

func TestObserveGeneration(t *testing.T) {
	before := value(t, generationRuns.WithLabelValues(OutcomeCompleted))
	ObserveGeneration(OutcomeCompleted, 250*time.Millisecond)
	assert.Equal(t, before+1, value(t, generationRuns.WithLabelValues(OutcomeCompleted)))
}

func TestObserveReplayed(t *testing.T) {
	before := value(t, replayedEvents)
	ObserveReplayed(5)
	assert.Equal(t, before+5, value(t, replayedEvents))
}

func TestObserveTransition(t *testing.T) {
	before := value(t, stateTransitions.WithLabelValues("Idle", "Analyzing"))
	ObserveTransition("Idle", "Analyzing")
	ObserveTransition("Idle", "Analyzing")
	ObserveTransition("Analyzing", "Generating")

	assert.Equal(t, before+2, value(t, stateTransitions.WithLabelValues("Idle", "Analyzing")))
}
