// ABOUTME: Per-conversation event sequencer that numbers, persists and delivers server events
// ABOUTME: The single serialization point for a conversation's outbound stream and its replay

package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/converse-gateway/internal/delivery"
	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/metrics"
	"github.com/2389/converse-gateway/internal/replay"
)

// DefaultPersistTimeout bounds one replay store write.
const DefaultPersistTimeout = 5 * time.Second

// Sink delivers envelopes to one live connection.
type Sink interface {
	Send(ctx context.Context, env envelope.Envelope) error
}

// Config configures an Emitter.
type Config struct {
	ConversationID string
	Store          replay.Store
	Builder        *envelope.Builder
	Logger         *slog.Logger
	// StartSequence is the last sequence already used, typically read back
	// from the replay store so a recreated conversation keeps counting.
	StartSequence  int64
	PersistTimeout time.Duration
}

// Emitter owns the sequence counter of one conversation. Every emission runs
// increment, build, persist, deliver under one lock, so events of a
// conversation are totally ordered and never share a sequence.
type Emitter struct {
	mu        sync.Mutex
	id        string
	seq       int64
	userID    string
	sink      Sink
	delivered *delivery.Set

	store          replay.Store
	builder        *envelope.Builder
	logger         *slog.Logger
	persistTimeout time.Duration
}

// New creates an emitter.
func New(cfg Config) *Emitter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := cfg.Builder
	if builder == nil {
		builder = envelope.NewBuilder()
	}
	timeout := cfg.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Emitter{
		id:             cfg.ConversationID,
		seq:            cfg.StartSequence,
		delivered:      delivery.NewSet(delivery.DefaultCapacity),
		store:          cfg.Store,
		builder:        builder,
		logger:         logger.With("component", "emitter", "conversation_id", cfg.ConversationID),
		persistTimeout: timeout,
	}
}

// Emit sequences p, persists it and tries to deliver it. delivered is false
// when there is no live connection or the send failed; the event is still in
// the replay store unless persistence itself failed, which is logged and
// counted. Once started an emission is not cancelled by ctx.
func (e *Emitter) Emit(ctx context.Context, p envelope.Payload) (env envelope.Envelope, delivered bool, err error) {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	env, err = e.builder.Build(e.id, e.seq+1, e.userID, p)
	if err != nil {
		return envelope.Envelope{}, false, fmt.Errorf("building %s event: %w", p.EventType(), err)
	}
	e.seq = env.Sequence

	e.persistLocked(ctx, env)
	delivered = e.deliverLocked(ctx, env)

	metrics.ObserveEmitted(string(env.Type), delivered)
	e.logger.Debug("event emitted",
		"type", env.Type,
		"sequence", env.Sequence,
		"event_id", env.EventID,
		"delivered", delivered,
	)
	return env, delivered, nil
}

func (e *Emitter) persistLocked(ctx context.Context, env envelope.Envelope) {
	if e.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
	defer cancel()
	if err := e.store.Append(pctx, e.id, env); err != nil {
		metrics.ObserveAppendError()
		e.logger.Error("failed to persist event", "sequence", env.Sequence, "error", err)
	}
}

func (e *Emitter) deliverLocked(ctx context.Context, env envelope.Envelope) bool {
	if e.sink == nil {
		return false
	}
	if err := e.sink.Send(ctx, env); err != nil {
		e.logger.Debug("delivery failed", "sequence", env.Sequence, "error", err)
		return false
	}
	if env.EventID != "" {
		e.delivered.Mark(env.EventID)
	}
	return true
}

// Replay resends stored events with sequence greater than after to the live
// sink, skipping events already delivered on it. It stops at the first
// delivery failure and returns how many events were sent.
func (e *Emitter) Replay(ctx context.Context, after int64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return 0, nil
	}
	events, err := e.store.Fetch(ctx, e.id, after)
	if err != nil {
		return 0, fmt.Errorf("fetching replay log: %w", err)
	}

	sent := 0
	for _, env := range events {
		if env.EventID != "" && e.delivered.Has(env.EventID) {
			continue
		}
		if !e.deliverLocked(ctx, env) {
			break
		}
		sent++
	}

	metrics.ObserveReplayed(sent)
	e.logger.Debug("replayed events", "after", after, "stored", len(events), "sent", sent)
	return sent, nil
}

// Attach makes sink the live connection. Attaching a different sink forgets
// which events the previous one received.
func (e *Emitter) Attach(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == sink {
		return
	}
	e.sink = sink
	e.delivered.Reset()
}

// Detach clears the live connection if it is still sink.
func (e *Emitter) Detach(sink Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == sink {
		e.sink = nil
		e.delivered.Reset()
	}
}

// Attached reports whether sink is the live connection.
func (e *Emitter) Attached(sink Sink) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink == sink
}

// SetUserID sets the user id stamped on later events.
func (e *Emitter) SetUserID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userID = id
}

// Sequence returns the last assigned sequence.
func (e *Emitter) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}
