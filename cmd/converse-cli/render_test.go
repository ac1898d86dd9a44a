// ABOUTME: Tests for the client's event rendering and frame construction
// ABOUTME: Rendering uses envelopes built the same way the gateway builds them

package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/envelope"
)

func build(t *testing.T, seq int64, p envelope.Payload) envelope.Envelope {
	t.Helper()
	env, err := envelope.NewBuilder().Build("c1", seq, "", p)
	require.NoError(t, err)
	return env
}

func TestRenderer_StreamsAndSkipsDuplicates(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.render(build(t, 1, &envelope.Status{Status: envelope.StatusAnalyzing}))
	r.render(build(t, 2, &envelope.Token{Text: "Hello "}))
	r.render(build(t, 3, &envelope.Token{Text: "world."}))
	r.render(build(t, 2, &envelope.Token{Text: "Hello "}))
	r.render(build(t, 4, &envelope.Done{Message: envelope.DoneCompleted}))

	assert.Equal(t, "· analyzing\nHello world.\n✓ completed\n", buf.String())
	assert.Equal(t, int64(4), r.lastSequence())
}

func TestRenderer_Card(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.render(build(t, 1, &envelope.Card{
		Title:    "Confirm Action",
		Sections: []envelope.CardSection{{Kind: "note", Data: map[string]any{"text": "Lock your card?"}}},
		Actions:  []envelope.CardAction{{ID: "confirm", Label: "Confirm"}, {ID: "cancel", Label: "Cancel"}},
	}))

	out := buf.String()
	assert.Contains(t, out, "Confirm Action")
	assert.Contains(t, out, "Lock your card?")
	assert.Contains(t, out, "/action confirm (Confirm)")
}

func TestRenderer_UnsequencedErrorLeavesSequence(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.render(build(t, 3, &envelope.Done{Message: envelope.DoneCompleted}))
	r.render(envelope.NewBuilder().ErrorFrame("", "invalid json: unexpected EOF"))

	assert.Equal(t, int64(3), r.lastSequence())
	assert.Contains(t, buf.String(), "✗ invalid json: unexpected EOF")
}

func TestClient_ResumeFrameUsesLastSequence(t *testing.T) {
	c := &client{conversationID: "c1", out: newRenderer(&bytes.Buffer{})}
	c.out.render(build(t, 7, &envelope.Done{Message: envelope.DoneCompleted}))

	frame := c.resumeFrame()
	assert.Equal(t, envelope.TypeResume, frame["type"])
	assert.Equal(t, map[string]any{"last_sequence": int64(7)}, frame["payload"])
}

func TestClient_CommandWithoutConnection(t *testing.T) {
	c := &client{conversationID: "c1", out: newRenderer(&bytes.Buffer{})}

	quit, err := c.command(t.Context(), "/quit")
	assert.True(t, quit)
	assert.NoError(t, err)

	_, err = c.command(t.Context(), "/action")
	assert.Error(t, err)

	_, err = c.command(t.Context(), "/bogus")
	assert.Error(t, err)

	_, err = c.command(t.Context(), "hello")
	assert.EqualError(t, err, "not connected")
}
