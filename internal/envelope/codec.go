// ABOUTME: Inbound frame decoding with JSON schema validation of envelope and payload
// ABOUTME: Produces DecodeError for malformed frames and ValidationError for bad fields

package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DecodeError reports a frame that is not a JSON object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "invalid json: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports an envelope that parsed but cannot be acted on.
// Type is empty when the envelope lacks routing fields.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Type, e.Reason)
}

// MaxFrameBytes caps one inbound frame.
const MaxFrameBytes = 64 << 10

// ErrMissingRouting is returned when type or conversation_id is absent.
var ErrMissingRouting = &ValidationError{Reason: "missing type or conversation_id"}

// ErrFrameTooLarge is returned for frames over MaxFrameBytes.
var ErrFrameTooLarge = &ValidationError{Reason: fmt.Sprintf("frame exceeds %d bytes", MaxFrameBytes)}

const envelopeSchema = `{
  "type": "object",
  "required": ["type", "conversation_id"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "conversation_id": {"type": "string", "minLength": 1}
  }
}`

var payloadSchemas = map[Type]string{
	TypeUserMessage: `{
  "type": "object",
  "required": ["text"],
  "properties": {
    "text": {"type": "string"},
    "user_id": {"type": ["string", "number"]},
    "user_info": {"type": "object"}
  }
}`,
	TypeAction: `{
  "type": "object",
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "action": {"type": "string", "minLength": 1},
    "action_id": {"type": "string", "minLength": 1},
    "params": {"type": "object"}
  },
  "anyOf": [
    {"required": ["id"]},
    {"required": ["action"]},
    {"required": ["action_id"]}
  ]
}`,
	TypeResume: `{
  "type": "object",
  "required": ["last_sequence"],
  "properties": {
    "last_sequence": {
      "anyOf": [
        {"type": "integer", "minimum": 0},
        {"type": "string", "pattern": "^[0-9]+$"}
      ]
    }
  }
}`,
	TypeStop: `{"type": "object"}`,
}

// Codec decodes inbound frames. It is safe for concurrent use.
type Codec struct {
	envelope *gojsonschema.Schema
	payloads map[Type]*gojsonschema.Schema
}

// NewCodec compiles the envelope and payload schemas.
func NewCodec() (*Codec, error) {
	env, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling envelope schema: %w", err)
	}

	c := &Codec{
		envelope: env,
		payloads: make(map[Type]*gojsonschema.Schema, len(payloadSchemas)),
	}
	for t, src := range payloadSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compiling %s schema: %w", t, err)
		}
		c.payloads[t] = s
	}
	return c, nil
}

// Decode parses one inbound frame.
//
// A *DecodeError means the frame was not a JSON object. ErrFrameTooLarge and
// ErrMissingRouting mean the frame cannot be attributed to a conversation; the
// envelope is nil in these cases. Any other *ValidationError comes back
// together with the parsed envelope so the caller can answer within the
// conversation.
func (c *Codec) Decode(frame []byte) (*Envelope, error) {
	if len(frame) > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		return nil, &DecodeError{Err: err}
	}

	result, err := c.envelope.Validate(gojsonschema.NewBytesLoader(frame))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if !result.Valid() {
		return nil, ErrMissingRouting
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		// Routing fields are valid, so this is a mistyped optional field
		return nil, &DecodeError{Err: err}
	}

	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		env.Payload = json.RawMessage("{}")
	}

	schema, ok := c.payloads[env.Type]
	if !ok {
		return &env, nil
	}

	result, err = schema.Validate(gojsonschema.NewBytesLoader(env.Payload))
	if err != nil {
		return &env, &ValidationError{Type: env.Type, Reason: err.Error()}
	}
	if !result.Valid() {
		return &env, &ValidationError{Type: env.Type, Reason: describe(result.Errors())}
	}

	return &env, nil
}

func describe(errs []gojsonschema.ResultError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
