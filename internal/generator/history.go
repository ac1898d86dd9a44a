// ABOUTME: Per-thread transcript shared by the model-backed generators
// ABOUTME: Also builds the system prompt that carries caller identity

package generator

import (
	"encoding/json"
	"strings"
	"sync"
)

// maxHistoryTurns bounds the transcript sent back to a model.
const maxHistoryTurns = 40

type turn struct {
	text      string
	assistant bool
}

type history struct {
	mu      sync.Mutex
	threads map[string][]turn
}

func newHistory() *history {
	return &history{threads: make(map[string][]turn)}
}

func (h *history) get(thread string) []turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]turn(nil), h.threads[thread]...)
}

func (h *history) add(thread string, turns ...turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := append(h.threads[thread], turns...)
	if len(t) > maxHistoryTurns {
		t = t[len(t)-maxHistoryTurns:]
	}
	h.threads[thread] = t
}

// turnText renders the request as the user turn sent to a model.
func turnText(req Request) string {
	if req.Resume {
		return "My decision: " + req.Message
	}
	return req.Message
}

func systemPrompt(base string, userInfo map[string]any) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	if len(userInfo) > 0 {
		if data, err := json.Marshal(userInfo); err == nil {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("Caller: ")
			b.Write(data)
		}
	}
	return b.String()
}
