// ABOUTME: Per-conversation record holding state, identity, the running task and the emitter
// ABOUTME: Lock order is dispatch, then mu, then the emitter's own lock

package conversation

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/2389/converse-gateway/internal/emitter"
	"github.com/2389/converse-gateway/internal/envelope"
)

// conversation is the live record for one conversation id.
type conversation struct {
	id string

	// dispatch serializes client events for this conversation.
	dispatch sync.Mutex

	mu         sync.Mutex
	state      State
	task       *task
	userID     string
	userInfo   map[string]any
	lastActive time.Time

	emitter *emitter.Emitter
	watch   *watchers
	logger  *slog.Logger
	now     func() time.Time
}

// task is one in-flight generation run.
type task struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	done    chan struct{}
	resumed bool
	started time.Time
}

// fireLocked applies t and publishes the transition. It reports false and
// leaves the state alone when t is not allowed.
func (c *conversation) fireLocked(t trigger) bool {
	to, ok := next(c.state, t)
	if !ok {
		return false
	}
	from := c.state
	c.state = to
	c.logger.Debug("state transition",
		"conversation_id", c.id,
		"trigger", t.String(),
		"from", from.String(),
		"to", to.String(),
	)
	c.watch.publish(Transition{ConversationID: c.id, From: from, To: to, At: c.now()})
	return true
}

// absorbIdentityLocked records caller identity. A verified subject wins over
// whatever the envelope claims.
func (c *conversation) absorbIdentityLocked(id envelope.Identity, subject string) {
	if id.IsZero() && subject == "" {
		return
	}
	if id.UserInfo != nil {
		info := maps.Clone(id.UserInfo)
		if c.userInfo == nil {
			c.userInfo = info
		} else {
			maps.Copy(c.userInfo, info)
		}
	}

	userID := id.UserID
	if subject != "" {
		userID = subject
	}
	if userID == "" {
		return
	}
	c.userID = userID
	if c.userInfo == nil {
		c.userInfo = make(map[string]any)
	}
	c.userInfo["user_id"] = userID
	c.emitter.SetUserID(userID)
}

// generatorInfoLocked returns the identity handed to the generator, with
// user_id always filled.
func (c *conversation) generatorInfoLocked(defaultUserID string) map[string]any {
	info := maps.Clone(c.userInfo)
	if info == nil {
		info = make(map[string]any)
	}
	if _, ok := info["user_id"].(string); !ok {
		id := c.userID
		if id == "" {
			id = defaultUserID
		}
		info["user_id"] = id
	}
	return info
}

// running reports whether a generation task is in flight.
func (c *conversation) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}
