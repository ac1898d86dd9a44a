// ABOUTME: Closed set of payload variants keyed by event type
// ABOUTME: Each variant reports the event type it travels under

package envelope

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is implemented by every payload variant.
type Payload interface {
	EventType() Type
}

// UserMessage carries user text. UserID and UserInfo are optional identity
// hints; UserID may be a string or a number, Envelope.Identity normalizes it.
type UserMessage struct {
	Text     string         `json:"text"`
	UserID   any            `json:"user_id,omitempty"`
	UserInfo map[string]any `json:"user_info,omitempty"`
}

func (*UserMessage) EventType() Type { return TypeUserMessage }

// Action answers a card. Clients name the chosen action with any of the three
// identifier keys.
type Action struct {
	ID       string         `json:"id,omitempty"`
	Action   string         `json:"action,omitempty"`
	ActionID string         `json:"action_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

func (*Action) EventType() Type { return TypeAction }

// Identifier returns the first non-empty of id, action and action_id.
func (a *Action) Identifier() string {
	switch {
	case a.ID != "":
		return a.ID
	case a.Action != "":
		return a.Action
	default:
		return a.ActionID
	}
}

// Resume asks for every event after LastSequence.
type Resume struct {
	LastSequence *int64 `json:"last_sequence"`
}

func (*Resume) EventType() Type { return TypeResume }

// UnmarshalJSON accepts last_sequence as an integer, an integral float such
// as 3.0, or a string of digits.
func (r *Resume) UnmarshalJSON(data []byte) error {
	var wire struct {
		LastSequence json.RawMessage `json:"last_sequence"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.LastSequence = nil
	if len(wire.LastSequence) == 0 || string(wire.LastSequence) == "null" {
		return nil
	}
	n, err := parseSequence(wire.LastSequence)
	if err != nil {
		return err
	}
	r.LastSequence = &n
	return nil
}

func parseSequence(raw json.RawMessage) (int64, error) {
	text := string(raw)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, fmt.Errorf("last_sequence %s is not a non-negative integer", raw)
	}
	return int64(f), nil
}

// After returns the replay cutoff.
func (r *Resume) After() int64 {
	if r.LastSequence == nil {
		return 0
	}
	return *r.LastSequence
}

// Stop cancels the running turn.
type Stop struct{}

func (*Stop) EventType() Type { return TypeStop }

// Token is one flushed chunk of generated text.
type Token struct {
	Text string `json:"text"`
}

func (*Token) EventType() Type { return TypeToken }

// Status values emitted by the gateway
const (
	StatusAnalyzing        = "analyzing"
	StatusProcessingAction = "processing_action"
	StatusWaitingAction    = "waiting_action"
	StatusStopped          = "stopped"
	StatusUpdate           = "update"
)

// Status reports progress. Data carries extra fields for generator updates.
type Status struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

func (*Status) EventType() Type { return TypeStatus }

// Card presents a choice to the user.
type Card struct {
	Title    string        `json:"title"`
	Badge    *string       `json:"badge"`
	Sections []CardSection `json:"sections"`
	Actions  []CardAction  `json:"actions"`
}

func (*Card) EventType() Type { return TypeCard }

// CardSection is one block of card content such as a note.
type CardSection struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// CardAction is one button on a card.
type CardAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style"`
}

// Done messages
const (
	DoneCompleted       = "completed"
	DoneActionProcessed = "action_processed"
	DoneStopped         = "stopped"
)

// Done ends a turn.
type Done struct {
	Message string `json:"message"`
}

func (*Done) EventType() Type { return TypeDone }

// Error reports a failure to the client.
type Error struct {
	Message string `json:"message"`
}

func (*Error) EventType() Type { return TypeError }

// Raw is a payload whose type falls outside the closed set.
type Raw struct {
	Kind   Type
	Fields map[string]any
}

func (r *Raw) EventType() Type { return r.Kind }

func (r *Raw) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}
