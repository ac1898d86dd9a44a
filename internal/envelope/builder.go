// ABOUTME: Builds outbound envelopes with server-assigned event id, sequence and timestamp
// ABOUTME: The only place outbound identity fields are stamped

package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Builder stamps outbound envelopes.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithIDSource overrides the event id source.
func WithIDSource(newID func() string) BuilderOption {
	return func(b *Builder) { b.newID = newID }
}

// NewBuilder returns a Builder using uuid event ids and the wall clock.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates an envelope for payload p. A zero seq produces an unsequenced
// envelope, used for frame-level errors that belong to no conversation.
func (b *Builder) Build(conversationID string, seq int64, userID string, p Payload) (Envelope, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", p.EventType(), err)
	}

	return Envelope{
		Type:           p.EventType(),
		ConversationID: conversationID,
		EventID:        b.newID(),
		Sequence:       seq,
		TS:             b.now().UnixMilli(),
		UserID:         userID,
		Payload:        body,
	}, nil
}

// ErrorFrame builds an unsequenced error envelope.
func (b *Builder) ErrorFrame(conversationID, message string) Envelope {
	env, err := b.Build(conversationID, 0, "", &Error{Message: message})
	if err != nil {
		// Error payloads always marshal
		panic(err)
	}
	return env
}
