// ABOUTME: Envelope wire type shared by both directions of the chat stream protocol
// ABOUTME: Defines event type constants and typed payload access on top of a raw JSON payload

package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type names an event carried by an Envelope.
type Type string

// Client to server event types
const (
	TypeUserMessage Type = "user_message"
	TypeAction      Type = "action"
	TypeResume      Type = "resume"
	TypeStop        Type = "stop"
)

// Server to client event types
const (
	TypeToken  Type = "token"
	TypeStatus Type = "status"
	TypeCard   Type = "card"
	TypeDone   Type = "done"
	TypeError  Type = "error"
)

// IsServerType reports whether t is emitted by the server.
func IsServerType(t Type) bool {
	switch t {
	case TypeToken, TypeStatus, TypeCard, TypeDone, TypeError:
		return true
	}
	return false
}

// Envelope is the uniform message wrapper. EventID, Sequence and TS are only
// ever set by a Builder; inbound envelopes may carry them but they are ignored.
type Envelope struct {
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	Sequence       int64           `json:"sequence,omitempty"`
	TS             int64           `json:"ts,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	UserInfo       map[string]any  `json:"user_info,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON accepts user_id as any JSON scalar and stores it as a string.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var wire struct {
		plain
		UserID json.RawMessage `json:"user_id,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Envelope(wire.plain)
	id, err := rawUserID(wire.UserID)
	if err != nil {
		return err
	}
	e.UserID = id
	return nil
}

func rawUserID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decoding user_id: %w", err)
	}
	switch v.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("user_id must be a scalar, got %s", raw)
	}
	return stringifyID(v), nil
}

// Decode returns the typed payload variant for the envelope's type. Types
// outside the closed set decode to Raw so callers can still inspect them.
func (e *Envelope) Decode() (Payload, error) {
	var p Payload
	switch e.Type {
	case TypeUserMessage:
		p = &UserMessage{}
	case TypeAction:
		p = &Action{}
	case TypeResume:
		p = &Resume{}
	case TypeStop:
		p = &Stop{}
	case TypeToken:
		p = &Token{}
	case TypeStatus:
		p = &Status{}
	case TypeCard:
		p = &Card{}
	case TypeDone:
		p = &Done{}
	case TypeError:
		p = &Error{}
	default:
		raw := &Raw{Kind: e.Type}
		if err := e.unmarshalPayload(&raw.Fields); err != nil {
			return nil, err
		}
		return raw, nil
	}

	if err := e.unmarshalPayload(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Envelope) unmarshalPayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// payloadFields returns the payload as a generic object, or nil if it is not one.
func (e *Envelope) payloadFields() map[string]any {
	if len(e.Payload) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil
	}
	return fields
}
