// ABOUTME: Bounded set of event ids already delivered to the live connection
// ABOUTME: Used by the emitter to skip events during replay that the client already has

package delivery

import "container/list"

// DefaultCapacity bounds how many ids a Set remembers.
const DefaultCapacity = 4096

// Set records delivered event ids in insertion order. When full, the oldest id
// is forgotten. A Set is not safe for concurrent use; the emitter owning it
// serializes every call under its own lock.
type Set struct {
	ids      map[string]*list.Element
	order    *list.List // oldest at front
	capacity int
}

// NewSet creates an empty set holding at most capacity ids.
// A non-positive capacity uses DefaultCapacity.
func NewSet(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		ids:      make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Has reports whether id was marked and not yet evicted.
func (s *Set) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Mark records id. Marking an id twice keeps its original position.
func (s *Set) Mark(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	if s.size() >= s.capacity {
		s.evictOldest()
	}
	s.ids[id] = s.order.PushBack(id)
}

// size returns the number of remembered ids.
func (s *Set) size() int {
	return len(s.ids)
}

// Reset forgets every id.
func (s *Set) Reset() {
	clear(s.ids)
	s.order.Init()
}

func (s *Set) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.ids, id)
}
