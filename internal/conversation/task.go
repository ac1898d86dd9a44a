// ABOUTME: Generation task loop turning a generator stream into sequenced events
// ABOUTME: Each turn ends in exactly one of interrupted, completed, cancelled or failed

package conversation

import (
	"context"
	"errors"

	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/flush"
	"github.com/2389/converse-gateway/internal/generator"
	"github.com/2389/converse-gateway/internal/metrics"
)

func (s *Service) run(c *conversation, t *task, req generator.Request) {
	defer s.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.task == t {
			c.task = nil
		}
		c.mu.Unlock()
		t.cancel(nil)
		close(t.done)
	}()

	buf := flush.NewBuffer(s.flush)
	outcome := s.drive(c, t, req, buf)
	metrics.ObserveGeneration(outcome, s.now().Sub(t.started))
	s.logger.Debug("generation finished",
		"conversation_id", c.id,
		"resumed", t.resumed,
		"outcome", outcome,
	)
}

func (s *Service) drive(c *conversation, t *task, req generator.Request, buf *flush.Buffer) string {
	stream, err := s.gen.Open(t.ctx, req)
	if err != nil {
		if t.ctx.Err() != nil {
			return s.cancelled(c, t, buf)
		}
		return s.failed(c, t, buf, err)
	}
	defer stream.Close()

	for stream.Next() {
		item := stream.Item()
		switch item.Kind {
		case generator.KindText:
			chunk, ok := buf.Append(item.Text)
			if !ok {
				if !s.live(c, t) {
					return s.cancelled(c, t, buf)
				}
				continue
			}
			if !s.emitLive(c, t, &envelope.Token{Text: chunk}) {
				return s.cancelled(c, t, buf)
			}

		case generator.KindEvent:
			p, ok := translateEvent(item.Event, t.resumed)
			if !ok {
				continue
			}
			payloads := drained(buf)
			if !s.emitLive(c, t, append(payloads, p)...) {
				return s.cancelled(c, t, buf)
			}

		case generator.KindInterrupt:
			return s.interrupted(c, t, buf, item.Question)

		default:
			s.logger.Warn("ignoring generator item", "conversation_id", c.id, "kind", item.Kind.String())
		}
	}

	if t.ctx.Err() != nil {
		return s.cancelled(c, t, buf)
	}
	if err := stream.Err(); err != nil {
		return s.failed(c, t, buf, err)
	}
	return s.exhausted(c, t, buf)
}

// liveLocked reports whether t may still emit: not cancelled, still the
// conversation's task, and the conversation still generating.
func (c *conversation) liveLocked(t *task) bool {
	return t.ctx.Err() == nil && c.task == t && c.state == Generating
}

func (s *Service) live(c *conversation, t *task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(t)
}

// emitLive emits payloads in order while t is live. It reports false, having
// emitted nothing, when t has been cancelled or replaced.
func (s *Service) emitLive(c *conversation, t *task, payloads ...envelope.Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.liveLocked(t) {
		return false
	}
	for _, p := range payloads {
		s.emit(t.ctx, c, p)
	}
	return true
}

func drained(buf *flush.Buffer) []envelope.Payload {
	if chunk, ok := buf.Drain(); ok {
		return []envelope.Payload{&envelope.Token{Text: chunk}}
	}
	return nil
}

func (s *Service) interrupted(c *conversation, t *task, buf *flush.Buffer, question string) string {
	c.mu.Lock()
	if !c.liveLocked(t) {
		c.mu.Unlock()
		return s.cancelled(c, t, buf)
	}
	defer c.mu.Unlock()

	for _, p := range drained(buf) {
		s.emit(t.ctx, c, p)
	}
	c.fireLocked(trigInterrupt)
	s.emit(t.ctx, c, ConfirmCard(question))
	c.fireLocked(trigCardShown)
	s.emit(t.ctx, c, &envelope.Status{Status: envelope.StatusWaitingAction})
	return metrics.OutcomeInterrupted
}

func (s *Service) exhausted(c *conversation, t *task, buf *flush.Buffer) string {
	c.mu.Lock()
	if !c.liveLocked(t) {
		c.mu.Unlock()
		return s.cancelled(c, t, buf)
	}
	defer c.mu.Unlock()

	for _, p := range drained(buf) {
		s.emit(t.ctx, c, p)
	}
	c.fireLocked(trigExhausted)
	message := envelope.DoneCompleted
	if t.resumed {
		message = envelope.DoneActionProcessed
	}
	s.emit(t.ctx, c, &envelope.Done{Message: message})
	return metrics.OutcomeCompleted
}

// cancelled ends a run whose context was cancelled. Buffered text is dropped
// unless the cancel policy is flush. A client stop is answered by the stop
// handler itself, so no status is emitted for it here.
func (s *Service) cancelled(c *conversation, t *task, buf *flush.Buffer) string {
	cause := context.Cause(t.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(cause, errShutdown) {
		buf.Discard()
		return metrics.OutcomeCancelled
	}

	if s.flushOnCancel {
		for _, p := range drained(buf) {
			s.emit(t.ctx, c, p)
		}
	} else if n := buf.Discard(); n > 0 {
		s.logger.Debug("discarded partial turn", "conversation_id", c.id, "chars", n)
	}

	c.fireLocked(trigCancelled)
	if !errors.Is(cause, errStopped) {
		s.emit(t.ctx, c, &envelope.Status{Status: envelope.StatusStopped})
	}
	return metrics.OutcomeCancelled
}

func (s *Service) failed(c *conversation, t *task, buf *flush.Buffer, err error) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf.Discard()
	c.fireLocked(trigFailed)
	s.logger.Error("generation failed", "conversation_id", c.id, "resumed", t.resumed, "error", err)
	s.emit(t.ctx, c, &envelope.Error{Message: "generation failed: " + err.Error()})
	return metrics.OutcomeFailed
}
