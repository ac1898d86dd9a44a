// ABOUTME: Terminal rendering of server events
// ABOUTME: Tracks the highest sequence seen and skips duplicates delivered by a resume

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/converse-gateway/internal/envelope"
)

type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	lastSeq int64
	inText  bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) lastSequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

func (r *renderer) notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endTextLocked()
	fmt.Fprintln(r.out, color.HiBlackString(format, args...))
}

func (r *renderer) endTextLocked() {
	if r.inText {
		fmt.Fprintln(r.out)
		r.inText = false
	}
}

// render prints one event. Sequenced events at or below the last seen
// sequence are dropped.
func (r *renderer) render(env envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if env.Sequence > 0 {
		if env.Sequence <= r.lastSeq {
			return
		}
		r.lastSeq = env.Sequence
	}

	p, err := env.Decode()
	if err != nil {
		r.endTextLocked()
		fmt.Fprintln(r.out, color.RedString("[bad %s event] %v", env.Type, err))
		return
	}

	switch p := p.(type) {
	case *envelope.Token:
		fmt.Fprint(r.out, p.Text)
		r.inText = true
	case *envelope.Status:
		r.endTextLocked()
		fmt.Fprintln(r.out, color.CyanString("· %s", p.Status))
	case *envelope.Card:
		r.endTextLocked()
		r.renderCardLocked(p)
	case *envelope.Done:
		r.endTextLocked()
		fmt.Fprintln(r.out, color.GreenString("✓ %s", p.Message))
	case *envelope.Error:
		r.endTextLocked()
		fmt.Fprintln(r.out, color.RedString("✗ %s", p.Message))
	default:
		r.endTextLocked()
		fmt.Fprintln(r.out, color.HiBlackString("[%s]", env.Type))
	}
}

func (r *renderer) renderCardLocked(card *envelope.Card) {
	title := card.Title
	if card.Badge != nil {
		title += " [" + *card.Badge + "]"
	}
	fmt.Fprintln(r.out, color.New(color.FgYellow, color.Bold).Sprint("┌ "+title))
	for _, s := range card.Sections {
		if text, ok := s.Data["text"].(string); ok {
			fmt.Fprintln(r.out, color.YellowString("│ %s", text))
		}
	}
	ids := make([]string, 0, len(card.Actions))
	for _, a := range card.Actions {
		ids = append(ids, fmt.Sprintf("/action %s (%s)", a.ID, a.Label))
	}
	fmt.Fprintln(r.out, color.YellowString("└ %s", strings.Join(ids, "  ")))
}
