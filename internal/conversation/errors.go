// ABOUTME: Validation errors raised by conversation dispatch
// ABOUTME: Part of the envelope ValidationError family so callers can treat them uniformly

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/converse-gateway/internal/envelope"
)

// ErrActionNotExpected is returned for an action outside WaitingAction.
var ErrActionNotExpected = &envelope.ValidationError{Reason: "no action expected in current state"}

// ErrUnknownEventType is wrapped by errors for unrecognized client event types.
var ErrUnknownEventType = errors.New("unknown client event type")

func unknownEventType(t envelope.Type) error {
	return fmt.Errorf("%w %s", ErrUnknownEventType, t)
}

// Cancellation causes for a generation run
var (
	errStopped    = errors.New("stopped by client")
	errSuperseded = errors.New("superseded by a new message")
	errShutdown   = errors.New("gateway shutting down")
)
