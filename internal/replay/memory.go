// ABOUTME: In-memory replay store with sliding TTL per conversation
// ABOUTME: Default backend for single-process deployments and tests

package replay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/converse-gateway/internal/envelope"
)

type memoryLog struct {
	events    []envelope.Envelope // sorted by Sequence
	ids       map[string]struct{}
	expiresAt time.Time
}

// MemoryStore keeps logs in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string]*memoryLog
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		logs: make(map[string]*memoryLog),
		ttl:  o.ttl,
		now:  o.now,
	}
}

// Append adds env to the conversation log.
func (s *MemoryStore) Append(_ context.Context, conversationID string, env envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	log := s.liveLocked(conversationID, now)
	if log == nil {
		log = &memoryLog{ids: make(map[string]struct{})}
		s.logs[conversationID] = log
	}
	log.expiresAt = now.Add(s.ttl)

	if env.EventID != "" {
		if _, dup := log.ids[env.EventID]; dup {
			return nil
		}
		log.ids[env.EventID] = struct{}{}
	}

	// Emission order is sequence order, so this is almost always a tail append
	i := sort.Search(len(log.events), func(i int) bool {
		return log.events[i].Sequence > env.Sequence
	})
	log.events = append(log.events, envelope.Envelope{})
	copy(log.events[i+1:], log.events[i:])
	log.events[i] = env
	return nil
}

// Fetch returns envelopes with Sequence greater than after.
func (s *MemoryStore) Fetch(_ context.Context, conversationID string, after int64) ([]envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.liveLocked(conversationID, s.now())
	if log == nil {
		return nil, nil
	}

	i := sort.Search(len(log.events), func(i int) bool {
		return log.events[i].Sequence > after
	})
	if i == len(log.events) {
		return nil, nil
	}
	out := make([]envelope.Envelope, len(log.events)-i)
	copy(out, log.events[i:])
	return out, nil
}

// LastSequence returns the highest stored sequence.
func (s *MemoryStore) LastSequence(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.liveLocked(conversationID, s.now())
	if log == nil || len(log.events) == 0 {
		return 0, nil
	}
	return log.events[len(log.events)-1].Sequence, nil
}

// Purge drops expired logs.
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, log := range s.logs {
		if !now.Before(log.expiresAt) {
			delete(s.logs, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// liveLocked returns the unexpired log for id, dropping it if expired.
// Must be called with mu held.
func (s *MemoryStore) liveLocked(id string, now time.Time) *memoryLog {
	log, ok := s.logs[id]
	if !ok {
		return nil
	}
	if !now.Before(log.expiresAt) {
		delete(s.logs, id)
		return nil
	}
	return log
}
