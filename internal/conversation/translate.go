// ABOUTME: Translation of structured generator events into outbound payloads
// ABOUTME: Handles stream markers, forwarded server events and generic progress updates

package conversation

import (
	"fmt"

	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/generator"
)

// translateEvent maps a structured item to the payload to emit. ok is false
// when the item is suppressed.
func translateEvent(fields map[string]any, resumed bool) (p envelope.Payload, ok bool) {
	typ, _ := fields["type"].(string)

	if typ == "" {
		if stream, has := fields["stream"]; has {
			return &envelope.Token{Text: fmt.Sprint(stream)}, true
		}
	}

	body, isMap := fields["payload"].(map[string]any)
	if !isMap {
		body = fields
	}

	// The lock confirmation belongs after the card's answer, never before it
	if typ == string(envelope.TypeStatus) && !resumed && body["status"] == generator.StatusCardLocked {
		return nil, false
	}

	if envelope.IsServerType(envelope.Type(typ)) {
		return &envelope.Raw{Kind: envelope.Type(typ), Fields: body}, true
	}

	return &envelope.Status{Status: envelope.StatusUpdate, Data: fields}, true
}
