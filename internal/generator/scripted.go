// ABOUTME: Deterministic in-process generator for demos and tests
// ABOUTME: Routes messages by keyword intent and pauses for confirmation before locking a card

package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Scripted prompts and replies
const (
	LockCardQuestion  = "Are you sure you want to lock your card?"
	DecisionYes       = "Yes"
	DecisionNo        = "No"
	StatusCardLocked  = "Card temporarily locked"
	StatusConnecting  = "Connecting to Agent..."
	alreadyLockedText = "Your card is already locked."
	declineText       = "No problem, is there anything else I can help with?"
)

type intent int

const (
	intentGeneral intent = iota
	intentNeedCall
	intentLockCard
	intentUnusualTransaction
	intentCheckStatus
)

func classify(message string) intent {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "lock"):
		return intentLockCard
	case strings.Contains(m, "unusual"), strings.Contains(m, "charge"), strings.Contains(m, "transaction"):
		return intentUnusualTransaction
	case strings.Contains(m, "call"), strings.Contains(m, "agent"):
		return intentNeedCall
	case strings.Contains(m, "status"), strings.Contains(m, "case"):
		return intentCheckStatus
	default:
		return intentGeneral
	}
}

// ScriptedOption configures a Scripted adapter.
type ScriptedOption func(*Scripted)

// WithFragmentDelay pauses before each item.
func WithFragmentDelay(d time.Duration) ScriptedOption {
	return func(s *Scripted) { s.delay = d }
}

// Scripted is a keyword-driven generator. Each thread may hold one paused run
// awaiting a decision; case status is tracked per user.
type Scripted struct {
	mu     sync.Mutex
	paused map[string]bool
	status map[string]map[string]any
	delay  time.Duration
}

// NewScripted creates a scripted generator.
func NewScripted(opts ...ScriptedOption) *Scripted {
	s := &Scripted{
		paused: make(map[string]bool),
		status: make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a run, or continues the paused run on the thread when req.Resume is set.
func (s *Scripted) Open(ctx context.Context, req Request) (Stream, error) {
	userID, _ := req.UserInfo["user_id"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	var items []Item
	if req.Resume {
		if !s.paused[req.ThreadID] {
			return nil, fmt.Errorf("no paused run on thread %s", req.ThreadID)
		}
		delete(s.paused, req.ThreadID)
		items = s.resumeLocked(userID, req.Message)
	} else {
		// A fresh message abandons any paused run
		delete(s.paused, req.ThreadID)
		items = s.startLocked(userID, req.Message)
	}

	thread := req.ThreadID
	return newSliceStream(ctx, items, s.delay, func(it Item) {
		if it.Kind != KindInterrupt {
			return
		}
		s.mu.Lock()
		s.paused[thread] = true
		s.mu.Unlock()
	}), nil
}

func (s *Scripted) startLocked(userID, message string) []Item {
	switch classify(message) {
	case intentNeedCall:
		return []Item{Event(map[string]any{
			"type":    "status",
			"payload": map[string]any{"status": StatusConnecting},
		})}

	case intentLockCard:
		return s.lockCardLocked(userID, nil)

	case intentUnusualTransaction:
		s.mergeStatusLocked(userID, "unusual_transaction", map[string]any{
			"Reported":      "Done",
			"Investigation": "In Progress",
			"Resolved":      "No",
		})
		lead := fragments("I reviewed your recent transactions and found two charges that do not match your usual spending.\n" +
			"I have opened an investigation. To protect your account I can lock your card while we look into it. ")
		return s.lockCardLocked(userID, lead)

	case intentCheckStatus:
		return s.summaryLocked(userID)

	default:
		return fragments(fmt.Sprintf("You said: %s. How can I help with your account today?", message))
	}
}

func (s *Scripted) lockCardLocked(userID string, lead []Item) []Item {
	if s.statusLocked(userID)["card_locked"] != nil {
		return append(lead, Text(alreadyLockedText))
	}
	return append(lead, Interrupt(LockCardQuestion))
}

func (s *Scripted) resumeLocked(userID, decision string) []Item {
	if decision != DecisionYes {
		return fragments(declineText)
	}
	s.mergeStatusLocked(userID, "card_locked", "LOCKED")
	items := []Item{Event(map[string]any{
		"type":    "status",
		"payload": map[string]any{"status": StatusCardLocked},
	})}
	return append(items, s.summaryLocked(userID)...)
}

func (s *Scripted) summaryLocked(userID string) []Item {
	status := s.statusLocked(userID)
	snapshot := make(map[string]any, len(status))
	for k, v := range status {
		snapshot[k] = v
	}

	items := []Item{Event(map[string]any{"case_progress": snapshot})}
	if len(status) == 0 {
		return append(items, fragments("There are no open cases on your account.")...)
	}

	var b strings.Builder
	b.WriteString("Here is a summary of your case.\n")
	if status["card_locked"] != nil {
		b.WriteString("Your card is locked and no new charges can be made. ")
	}
	if status["unusual_transaction"] != nil {
		b.WriteString("The unusual transactions are reported and under investigation. ")
	}
	b.WriteString("We will notify you as soon as the case is resolved.")
	return append(items, fragments(b.String())...)
}

func (s *Scripted) statusLocked(userID string) map[string]any {
	st, ok := s.status[userID]
	if !ok {
		st = make(map[string]any)
		s.status[userID] = st
	}
	return st
}

func (s *Scripted) mergeStatusLocked(userID, key string, value any) {
	s.statusLocked(userID)[key] = value
}

// fragments splits text into word-sized text items the way a model streams tokens.
func fragments(text string) []Item {
	var items []Item
	start := 0
	for i, r := range text {
		if r == ' ' || r == '\n' {
			items = append(items, Text(text[start:i+1]))
			start = i + 1
		}
	}
	if start < len(text) {
		items = append(items, Text(text[start:]))
	}
	return items
}
