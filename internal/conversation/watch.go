// ABOUTME: Fan-out of conversation state transitions to in-process watchers
// ABOUTME: Watchers subscribe per conversation id, or to all with "", and never block the publisher

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const watcherBufferSize = 64

// allConversations subscribes to transitions of every conversation.
const allConversations = ""

// Transition records one state change.
type Transition struct {
	ConversationID string
	From           State
	To             State
	At             time.Time
}

// watchers provides non-blocking pub/sub of transitions keyed by conversation id.
type watchers struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan Transition // conversation id -> sub id -> ch
	logger *slog.Logger
}

func newWatchers(logger *slog.Logger) *watchers {
	return &watchers{
		subs:   make(map[string]map[string]chan Transition),
		logger: logger,
	}
}

// subscribe registers for transitions of one conversation, or of all of them
// when conversationID is allConversations, until ctx ends.
func (w *watchers) subscribe(ctx context.Context, conversationID string, buffer int) <-chan Transition {
	subID := uuid.NewString()
	ch := make(chan Transition, buffer)

	w.mu.Lock()
	if _, ok := w.subs[conversationID]; !ok {
		w.subs[conversationID] = make(map[string]chan Transition)
	}
	w.subs[conversationID][subID] = ch
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.unsubscribe(conversationID, subID)
	}()
	return ch
}

// publish delivers tr to every watcher that has room for it.
func (w *watchers) publish(tr Transition) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	w.deliverLocked(w.subs[tr.ConversationID], tr)
	if tr.ConversationID != allConversations {
		w.deliverLocked(w.subs[allConversations], tr)
	}
}

func (w *watchers) deliverLocked(subs map[string]chan Transition, tr Transition) {
	for _, ch := range subs {
		select {
		case ch <- tr:
		default:
			w.logger.Debug("dropped transition for slow watcher",
				"conversation_id", tr.ConversationID,
				"to", tr.To.String())
		}
	}
}

func (w *watchers) unsubscribe(conversationID, subID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	subs, ok := w.subs[conversationID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(w.subs, conversationID)
	}
}

// close ends every subscription.
func (w *watchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, subs := range w.subs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(w.subs, id)
	}
}
