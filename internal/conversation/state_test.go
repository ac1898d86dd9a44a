// ABOUTME: Tests for the conversation transition function, card catalog and event translation
// ABOUTME: Exhaustively checks which triggers are allowed from which states

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/generator"
)

var allStates = []State{Idle, WaitingInput, Analyzing, Generating, CardReady, WaitingAction, ProcessingAction, Completed, Error}

func TestNext(t *testing.T) {
	tests := []struct {
		trigger trigger
		allowed map[State]State
	}{
		{trigUserMessage, everyState(Analyzing)},
		{trigStop, everyState(Completed)},
		{trigCancelled, everyState(Completed)},
		{trigFailed, everyState(Error)},
		{trigAction, map[State]State{WaitingAction: ProcessingAction}},
		{trigGenerate, map[State]State{Analyzing: Generating, ProcessingAction: Generating}},
		{trigInterrupt, map[State]State{Generating: CardReady}},
		{trigCardShown, map[State]State{CardReady: WaitingAction}},
		{trigExhausted, map[State]State{Generating: Completed}},
	}

	for _, tt := range tests {
		t.Run(tt.trigger.String(), func(t *testing.T) {
			for _, from := range allStates {
				got, ok := next(from, tt.trigger)
				want, allowed := tt.allowed[from]
				if !allowed {
					assert.False(t, ok, "%s from %s should be rejected", tt.trigger, from)
					assert.Equal(t, from, got)
					continue
				}
				assert.True(t, ok, "%s from %s should be allowed", tt.trigger, from)
				assert.Equal(t, want, got)
			}
		})
	}
}

func everyState(to State) map[State]State {
	m := make(map[State]State, len(allStates))
	for _, s := range allStates {
		m[s] = to
	}
	return m
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "WaitingAction", WaitingAction.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "trigger(42)", trigger(42).String())
}

func TestConfirmCard(t *testing.T) {
	card := ConfirmCard("Proceed?")
	assert.Equal(t, "Confirm Action", card.Title)
	assert.Nil(t, card.Badge)
	require.Len(t, card.Sections, 1)
	assert.Equal(t, "note", card.Sections[0].Kind)
	assert.Equal(t, "Proceed?", card.Sections[0].Data["text"])
	require.Len(t, card.Actions, 2)
	assert.Equal(t, envelope.CardAction{ID: "confirm", Label: "Confirm", Style: "primary"}, card.Actions[0])
	assert.Equal(t, envelope.CardAction{ID: "cancel", Label: "Cancel", Style: "secondary"}, card.Actions[1])
}

func TestDecisionFor(t *testing.T) {
	assert.Equal(t, DecisionYes, decisionFor("confirm"))
	assert.Equal(t, DecisionNo, decisionFor("cancel"))
	assert.Equal(t, "escalate", decisionFor("escalate"))
}

func TestTranslateEvent(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		resumed bool
		want    envelope.Payload
		ok      bool
	}{
		{
			name:   "stream marker",
			fields: map[string]any{"stream": "hello"},
			want:   &envelope.Token{Text: "hello"},
			ok:     true,
		},
		{
			name:   "server type forwarded with its payload",
			fields: map[string]any{"type": "status", "payload": map[string]any{"status": "Connecting"}},
			want:   &envelope.Raw{Kind: envelope.TypeStatus, Fields: map[string]any{"status": "Connecting"}},
			ok:     true,
		},
		{
			name:   "server type without payload forwards its fields",
			fields: map[string]any{"type": "token", "text": "x"},
			want:   &envelope.Raw{Kind: envelope.TypeToken, Fields: map[string]any{"type": "token", "text": "x"}},
			ok:     true,
		},
		{
			name:   "application type becomes an update",
			fields: map[string]any{"type": "progress", "pct": 50},
			want:   &envelope.Status{Status: envelope.StatusUpdate, Data: map[string]any{"type": "progress", "pct": 50}},
			ok:     true,
		},
		{
			name:   "untyped data becomes an update",
			fields: map[string]any{"case_progress": map[string]any{}},
			want:   &envelope.Status{Status: envelope.StatusUpdate, Data: map[string]any{"case_progress": map[string]any{}}},
			ok:     true,
		},
		{
			name:   "card locked suppressed on a fresh turn",
			fields: map[string]any{"type": "status", "payload": map[string]any{"status": generator.StatusCardLocked}},
			ok:     false,
		},
		{
			name:    "card locked forwarded on a resumed turn",
			fields:  map[string]any{"type": "status", "payload": map[string]any{"status": generator.StatusCardLocked}},
			resumed: true,
			want:    &envelope.Raw{Kind: envelope.TypeStatus, Fields: map[string]any{"status": generator.StatusCardLocked}},
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translateEvent(tt.fields, tt.resumed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
