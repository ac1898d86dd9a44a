// ABOUTME: Replay store interface: a per-conversation, TTL-bounded append log of envelopes
// ABOUTME: Implemented by in-memory, Redis and SQLite backends

package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/converse-gateway/internal/envelope"
)

// DefaultTTL is the sliding retention window of a conversation log.
const DefaultTTL = 300 * time.Second

// Store is an ordered, TTL-bounded log of emitted envelopes per conversation.
//
// Append adds an envelope and refreshes the TTL of the whole log. Appending an
// event id that is already stored is a no-op. Fetch returns every stored
// envelope with Sequence greater than after, in sequence order; an unknown or
// expired conversation yields an empty slice and no error.
type Store interface {
	Append(ctx context.Context, conversationID string, env envelope.Envelope) error
	Fetch(ctx context.Context, conversationID string, after int64) ([]envelope.Envelope, error)
	// LastSequence returns the highest stored sequence, or 0 if none.
	LastSequence(ctx context.Context, conversationID string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Purger is implemented by backends that must delete expired logs themselves.
type Purger interface {
	// Purge removes expired logs and returns how many were removed.
	Purge(ctx context.Context) (int, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// WithTTL sets the retention window. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the clock used for expiry. Ignored by the Redis backend,
// where the server owns expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger backends report through. A nil logger keeps
// slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "replay")
	return o
}
