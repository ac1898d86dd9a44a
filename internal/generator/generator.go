// ABOUTME: Contract between the conversation core and an answer-generation backend
// ABOUTME: A backend yields a lazy finite stream of text, structured events and interrupts

package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/converse-gateway/internal/config"
)

// ErrUnknownProvider is returned by New for an unrecognized provider name.
var ErrUnknownProvider = errors.New("unknown generator provider")

// Kind identifies what an Item carries.
type Kind int

const (
	KindText Kind = iota
	KindEvent
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEvent:
		return "event"
	case KindInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Item is exactly one of a text fragment, a structured event or an interrupt.
type Item struct {
	Kind Kind
	// Text is the fragment for KindText.
	Text string
	// Event holds the fields of a structured event: an optional "type", an
	// optional "payload", or a bare {"stream": "..."} marker.
	Event map[string]any
	// Question is the prompt for KindInterrupt.
	Question string
}

// Text returns a text fragment item.
func Text(s string) Item { return Item{Kind: KindText, Text: s} }

// Event returns a structured event item.
func Event(fields map[string]any) Item { return Item{Kind: KindEvent, Event: fields} }

// Interrupt returns an interrupt item asking question.
func Interrupt(question string) Item { return Item{Kind: KindInterrupt, Question: question} }

// Request starts or resumes a run on a thread.
type Request struct {
	ThreadID string
	// Message is the user text, or the decision token when Resume is set.
	Message  string
	Resume   bool
	UserInfo map[string]any
}

// Stream is a lazy, finite, non-restartable sequence of items. Next blocks
// until an item is ready and returns false at the end of the stream or once
// the context given to Open is cancelled. Err reports why iteration ended
// early. Close releases resources and may be called at any point.
type Stream interface {
	Next() bool
	Item() Item
	Err() error
	Close() error
}

// Adapter opens generation runs.
type Adapter interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// New builds the adapter selected by cfg.
func New(cfg config.GeneratorConfig) (Adapter, error) {
	switch cfg.Provider {
	case "", config.ProviderScripted:
		return NewScripted(WithFragmentDelay(cfg.FragmentDelay)), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// sliceStream replays a precomputed list of items, honoring cancellation
// and an optional pause before each item.
type sliceStream struct {
	ctx    context.Context
	items  []Item
	delay  time.Duration
	pos    int
	cur    Item
	err    error
	closed bool
	onItem func(Item)
}

func newSliceStream(ctx context.Context, items []Item, delay time.Duration, onItem func(Item)) *sliceStream {
	return &sliceStream{ctx: ctx, items: items, delay: delay, onItem: onItem}
}

func (s *sliceStream) Next() bool {
	if s.closed || s.err != nil || s.pos >= len(s.items) {
		return false
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.err = context.Cause(s.ctx)
			return false
		case <-timer.C:
		}
	} else if s.ctx.Err() != nil {
		s.err = context.Cause(s.ctx)
		return false
	}

	s.cur = s.items[s.pos]
	s.pos++
	if s.onItem != nil {
		s.onItem(s.cur)
	}
	return true
}

func (s *sliceStream) Item() Item { return s.cur }

func (s *sliceStream) Err() error { return s.err }

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
