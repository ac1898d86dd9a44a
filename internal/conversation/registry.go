// ABOUTME: Registry owning conversation lifecycle: create on first use, evict when idle
// ABOUTME: A new conversation's emitter resumes counting from the replay store's last sequence

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/converse-gateway/internal/emitter"
	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/metrics"
	"github.com/2389/converse-gateway/internal/replay"
)

type registry struct {
	mu    sync.Mutex
	convs map[string]*conversation

	store   replay.Store
	builder *envelope.Builder
	watch   *watchers
	logger  *slog.Logger
	now     func() time.Time
}

func newRegistry(store replay.Store, builder *envelope.Builder, watch *watchers, logger *slog.Logger, now func() time.Time) *registry {
	return &registry{
		convs:   make(map[string]*conversation),
		store:   store,
		builder: builder,
		watch:   watch,
		logger:  logger,
		now:     now,
	}
}

// getOrCreate returns the conversation for id and marks it active.
func (r *registry) getOrCreate(ctx context.Context, id string) *conversation {
	r.mu.Lock()
	if c, ok := r.convs[id]; ok {
		c.lastActive = r.now()
		r.mu.Unlock()
		return c
	}
	r.mu.Unlock()

	// Read the store outside the lock; a lost race just discards this work
	start := r.lastSequence(ctx, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[id]; ok {
		c.lastActive = r.now()
		return c
	}
	c := &conversation{
		id:         id,
		state:      Idle,
		lastActive: r.now(),
		watch:      r.watch,
		logger:     r.logger,
		now:        r.now,
		emitter: emitter.New(emitter.Config{
			ConversationID: id,
			Store:          r.store,
			Builder:        r.builder,
			Logger:         r.logger,
			StartSequence:  start,
		}),
	}
	r.convs[id] = c
	metrics.SetConversations(len(r.convs))
	if start > 0 {
		r.logger.Info("conversation restored from replay log", "conversation_id", id, "last_sequence", start)
	}
	return c
}

func (r *registry) lastSequence(ctx context.Context, id string) int64 {
	if r.store == nil {
		return 0
	}
	seq, err := r.store.LastSequence(ctx, id)
	if err != nil {
		r.logger.Warn("failed to read last sequence", "conversation_id", id, "error", err)
		return 0
	}
	return seq
}

// get returns the conversation for id without creating it.
func (r *registry) get(id string) (*conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	return c, ok
}

// all returns a snapshot of live conversations.
func (r *registry) all() []*conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation, 0, len(r.convs))
	for _, c := range r.convs {
		out = append(out, c)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// sweep evicts conversations idle for longer than idle. Conversations with a
// running task are kept.
func (r *registry) sweep(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, c := range r.convs {
		if now.Sub(c.lastActive) < idle || c.running() {
			continue
		}
		delete(r.convs, id)
		evicted++
	}
	if evicted > 0 {
		metrics.SetConversations(len(r.convs))
		r.logger.Debug("evicted idle conversations", "count", evicted, "remaining", len(r.convs))
	}
	return evicted
}
