// ABOUTME: Conversation service dispatching client events and driving generation runs
// ABOUTME: Owns the registry, one cancellable task per conversation and the turn lifecycle

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/converse-gateway/internal/config"
	"github.com/2389/converse-gateway/internal/emitter"
	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/flush"
	"github.com/2389/converse-gateway/internal/generator"
	"github.com/2389/converse-gateway/internal/metrics"
	"github.com/2389/converse-gateway/internal/replay"
)

// Peer is a live client connection.
type Peer interface {
	emitter.Sink
	// Subject is the verified caller id, empty for unauthenticated peers.
	Subject() string
}

// Config configures a Service.
type Config struct {
	Generator     generator.Adapter
	Store         replay.Store
	Builder       *envelope.Builder
	Flush         flush.Policy
	CancelPolicy  string
	DefaultUserID string
	IdleTimeout   time.Duration
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Service routes client events to conversations.
type Service struct {
	gen           generator.Adapter
	reg           *registry
	watch         *watchers
	flush         flush.Policy
	flushOnCancel bool
	defaultUserID string
	idleTimeout   time.Duration
	logger        *slog.Logger
	now           func() time.Time

	base   context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	// lifeMu guards closed so no run starts once Close is waiting on wg.
	lifeMu sync.Mutex
	closed bool
}

// transitionBufferSize is the backlog of the metrics recorder subscription.
const transitionBufferSize = 1024

// NewService creates a conversation service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Generator == nil {
		return nil, errors.New("conversation: generator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	builder := cfg.Builder
	if builder == nil {
		builder = envelope.NewBuilder()
	}
	policy := cfg.Flush
	if policy.MaxChars == 0 {
		policy = flush.DefaultPolicy()
	}
	defaultUserID := cfg.DefaultUserID
	if defaultUserID == "" {
		defaultUserID = config.DefaultUserID
	}

	watch := newWatchers(logger)
	base, cancel := context.WithCancelCause(context.Background())
	s := &Service{
		gen:           cfg.Generator,
		reg:           newRegistry(cfg.Store, builder, watch, logger, now),
		watch:         watch,
		flush:         policy,
		flushOnCancel: cfg.CancelPolicy == config.CancelPolicyFlush,
		defaultUserID: defaultUserID,
		idleTimeout:   cfg.IdleTimeout,
		logger:        logger,
		now:           now,
		base:          base,
		cancel:        cancel,
	}
	go recordTransitions(watch.subscribe(base, allConversations, transitionBufferSize))
	return s, nil
}

// recordTransitions counts every state change until the subscription closes.
func recordTransitions(transitions <-chan Transition) {
	for tr := range transitions {
		metrics.ObserveTransition(tr.From.String(), tr.To.String())
	}
}

// Handle dispatches one validated client envelope from peer. peer becomes the
// conversation's live connection. A returned error has already been reported
// to the client as an error event.
func (s *Service) Handle(ctx context.Context, peer Peer, env *envelope.Envelope) error {
	c := s.reg.getOrCreate(ctx, env.ConversationID)

	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.emitter.Attach(peer)
	c.mu.Lock()
	c.absorbIdentityLocked(env.Identity(), peer.Subject())
	c.mu.Unlock()

	if !isClientType(env.Type) {
		return s.emitError(ctx, c, unknownEventType(env.Type))
	}

	payload, err := env.Decode()
	if err != nil {
		return s.emitError(ctx, c, &envelope.ValidationError{Type: env.Type, Reason: err.Error()})
	}

	switch p := payload.(type) {
	case *envelope.UserMessage:
		return s.handleUserMessage(ctx, c, p)
	case *envelope.Action:
		return s.handleAction(ctx, c, p)
	case *envelope.Resume:
		return s.handleResume(ctx, c, p)
	case *envelope.Stop:
		return s.handleStop(ctx, c)
	default:
		return s.emitError(ctx, c, unknownEventType(env.Type))
	}
}

// Reject reports cause as a sequenced error on env's conversation without
// touching its state.
func (s *Service) Reject(ctx context.Context, peer Peer, env *envelope.Envelope, cause error) {
	c := s.reg.getOrCreate(ctx, env.ConversationID)

	c.dispatch.Lock()
	defer c.dispatch.Unlock()

	c.emitter.Attach(peer)
	_ = s.emitError(ctx, c, cause)
}

func isClientType(t envelope.Type) bool {
	switch t {
	case envelope.TypeUserMessage, envelope.TypeAction, envelope.TypeResume, envelope.TypeStop:
		return true
	}
	return false
}

func (s *Service) handleUserMessage(ctx context.Context, c *conversation, p *envelope.UserMessage) error {
	s.stopTask(c, errSuperseded)

	c.mu.Lock()
	c.fireLocked(trigUserMessage)
	c.mu.Unlock()

	s.emit(ctx, c, &envelope.Status{Status: envelope.StatusAnalyzing})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fireLocked(trigGenerate)
	s.startLocked(c, generator.Request{
		ThreadID: c.id,
		Message:  p.Text,
		UserInfo: c.generatorInfoLocked(s.defaultUserID),
	}, false)
	return nil
}

func (s *Service) handleAction(ctx context.Context, c *conversation, p *envelope.Action) error {
	c.mu.Lock()
	if !c.fireLocked(trigAction) {
		state := c.state
		c.mu.Unlock()
		s.logger.Debug("action rejected", "conversation_id", c.id, "state", state.String())
		return s.emitError(ctx, c, ErrActionNotExpected)
	}
	c.mu.Unlock()

	// The interrupted run may still be unwinding
	s.stopTask(c, errSuperseded)

	s.emit(ctx, c, &envelope.Status{Status: envelope.StatusProcessingAction})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fireLocked(trigGenerate)
	s.startLocked(c, generator.Request{
		ThreadID: c.id,
		Message:  decisionFor(p.Identifier()),
		Resume:   true,
		UserInfo: c.generatorInfoLocked(s.defaultUserID),
	}, true)
	return nil
}

func (s *Service) handleResume(ctx context.Context, c *conversation, p *envelope.Resume) error {
	n, err := c.emitter.Replay(ctx, p.After())
	if err != nil {
		s.logger.Error("replay failed", "conversation_id", c.id, "error", err)
		return s.emitError(ctx, c, fmt.Errorf("replay unavailable: %w", err))
	}
	s.logger.Debug("resume served",
		"conversation_id", c.id,
		"after", p.After(),
		"sent", n,
		"sequence", c.emitter.Sequence(),
	)
	return nil
}

func (s *Service) handleStop(ctx context.Context, c *conversation) error {
	s.stopTask(c, errStopped)

	c.mu.Lock()
	c.fireLocked(trigStop)
	c.mu.Unlock()

	s.emit(ctx, c, &envelope.Done{Message: envelope.DoneStopped})
	return nil
}

// stopTask cancels the running task with cause and waits for it to finish.
func (s *Service) stopTask(c *conversation, cause error) {
	c.mu.Lock()
	t := c.task
	if t != nil {
		t.cancel(cause)
	}
	c.mu.Unlock()

	if t != nil {
		<-t.done
	}
}

func (s *Service) startLocked(c *conversation, req generator.Request, resumed bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		c.fireLocked(trigCancelled)
		s.logger.Debug("generation not started, service closed", "conversation_id", c.id)
		return
	}

	ctx, cancel := context.WithCancelCause(s.base)
	t := &task{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		resumed: resumed,
		started: s.now(),
	}
	c.task = t

	s.wg.Add(1)
	go s.run(c, t, req)
}

func (s *Service) emit(ctx context.Context, c *conversation, p envelope.Payload) {
	if _, _, err := c.emitter.Emit(ctx, p); err != nil {
		s.logger.Error("failed to emit event", "conversation_id", c.id, "type", p.EventType(), "error", err)
	}
}

func (s *Service) emitError(ctx context.Context, c *conversation, cause error) error {
	s.emit(ctx, c, &envelope.Error{Message: cause.Error()})
	return cause
}

// Detach drops peer as the live connection of every conversation it holds.
func (s *Service) Detach(peer Peer) {
	for _, c := range s.reg.all() {
		if !c.emitter.Attached(peer) {
			continue
		}
		c.emitter.Detach(peer)
		s.logger.Debug("peer detached", "conversation_id", c.id)
	}
}

// Watch streams state transitions of one conversation until ctx ends. An
// empty conversationID watches every conversation. Transitions are dropped
// for a watcher whose buffer is full.
func (s *Service) Watch(ctx context.Context, conversationID string) <-chan Transition {
	return s.watch.subscribe(ctx, conversationID, watcherBufferSize)
}

// State returns the current state of a conversation.
func (s *Service) State(conversationID string) (State, bool) {
	c, ok := s.reg.get(conversationID)
	if !ok {
		return Idle, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, true
}

// Sweep evicts conversations idle since before now minus the idle timeout.
func (s *Service) Sweep(now time.Time) int {
	return s.reg.sweep(now, s.idleTimeout)
}

// Len returns the number of live conversations.
func (s *Service) Len() int {
	return s.reg.len()
}

// Close cancels running generation tasks and waits for them to end. No new
// run starts afterwards.
func (s *Service) Close() {
	s.lifeMu.Lock()
	s.closed = true
	s.lifeMu.Unlock()

	s.cancel(errShutdown)
	s.wg.Wait()
	s.watch.close()
}
