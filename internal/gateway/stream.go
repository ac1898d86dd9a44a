// ABOUTME: WebSocket stream endpoint running one read loop per connection
// ABOUTME: Frame-level failures are answered locally; valid envelopes go to the conversation service

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/converse-gateway/internal/auth"
	"github.com/2389/converse-gateway/internal/conversation"
	"github.com/2389/converse-gateway/internal/envelope"
	"github.com/2389/converse-gateway/internal/metrics"
)

const (
	// wsReadLimit sits above envelope.MaxFrameBytes so an oversized frame is
	// answered with an error event instead of a 1009 close.
	wsReadLimit = 1 << 20
	// writeTimeout bounds one outbound frame; a client that cannot take a
	// frame in this window is disconnected.
	writeTimeout = 10 * time.Second
)

// Rejected frame reasons
const (
	reasonFrameTooLarge     = "frame_too_large"
	reasonInvalidJSON       = "invalid_json"
	reasonMissingRouting    = "missing_routing"
	reasonInvalidPayload    = "invalid_payload"
	reasonActionNotExpected = "action_not_expected"
	reasonUnknownType       = "unknown_type"
	reasonDispatch          = "dispatch"
)

// wsPeer is one live websocket connection.
type wsPeer struct {
	conn    *websocket.Conn
	subject string

	mu sync.Mutex
}

func (p *wsPeer) Send(ctx context.Context, env envelope.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := wsjson.Write(ctx, p.conn, env); err != nil {
		return fmt.Errorf("writing %s event: %w", env.Type, err)
	}
	return nil
}

func (p *wsPeer) Subject() string { return p.subject }

func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	peer := &wsPeer{conn: conn, subject: auth.SubjectFromContext(r.Context())}
	ctx, cancel := context.WithCancel(r.Context())
	g.trackStream(peer, cancel)

	metrics.ConnectionOpened()
	g.logger.Info("stream connected", "remote", r.RemoteAddr, "subject", peer.subject)
	defer func() {
		cancel()
		g.untrackStream(peer)
		g.conversation.Detach(peer)
		metrics.ConnectionClosed()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		g.logger.Info("stream disconnected", "remote", r.RemoteAddr)
	}()

	g.readLoop(ctx, peer)
}

func (g *Gateway) readLoop(ctx context.Context, peer *wsPeer) {
	for {
		_, frame, err := peer.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				g.logger.Debug("stream closed by client")
			default:
				if ctx.Err() == nil {
					g.logger.Debug("stream read ended", "error", err)
				}
			}
			return
		}
		g.handleFrame(ctx, peer, frame)
	}
}

// handleFrame decodes one frame and routes it. Frames that cannot be
// attributed to a conversation get an unsequenced error frame; payload
// problems become sequenced errors of the addressed conversation.
func (g *Gateway) handleFrame(ctx context.Context, peer *wsPeer, frame []byte) {
	env, err := g.codec.Decode(frame)

	var decodeErr *envelope.DecodeError
	var validationErr *envelope.ValidationError
	switch {
	case err == nil:
		if err := g.conversation.Handle(ctx, peer, env); err != nil {
			reason := dispatchReason(err)
			metrics.ObserveRejectedFrame(reason)
			g.logger.Debug("client event rejected",
				"conversation_id", env.ConversationID,
				"type", env.Type,
				"reason", reason,
				"error", err,
			)
		}

	case errors.Is(err, envelope.ErrFrameTooLarge):
		metrics.ObserveRejectedFrame(reasonFrameTooLarge)
		g.logger.Warn("frame too large", "bytes", len(frame), "limit", envelope.MaxFrameBytes)
		g.sendFrameError(ctx, peer, err)

	case errors.As(err, &decodeErr):
		metrics.ObserveRejectedFrame(reasonInvalidJSON)
		g.logger.Warn("undecodable frame", "error", err)
		g.sendFrameError(ctx, peer, err)

	case errors.Is(err, envelope.ErrMissingRouting):
		metrics.ObserveRejectedFrame(reasonMissingRouting)
		g.logger.Warn("frame missing routing fields")
		g.sendFrameError(ctx, peer, err)

	case errors.As(err, &validationErr) && env != nil:
		metrics.ObserveRejectedFrame(reasonInvalidPayload)
		g.logger.Warn("invalid payload",
			"conversation_id", env.ConversationID,
			"type", env.Type,
			"error", err,
		)
		g.conversation.Reject(ctx, peer, env, err)

	default:
		metrics.ObserveRejectedFrame(reasonDispatch)
		g.logger.Error("frame decoding failed", "error", err)
		g.sendFrameError(ctx, peer, err)
	}
}

func (g *Gateway) sendFrameError(ctx context.Context, peer *wsPeer, cause error) {
	if err := peer.Send(ctx, g.builder.ErrorFrame("", cause.Error())); err != nil {
		g.logger.Debug("failed to send frame error", "error", err)
	}
}

func dispatchReason(err error) string {
	var validationErr *envelope.ValidationError
	switch {
	case errors.Is(err, conversation.ErrActionNotExpected):
		return reasonActionNotExpected
	case errors.Is(err, conversation.ErrUnknownEventType):
		return reasonUnknownType
	case errors.As(err, &validationErr):
		return reasonInvalidPayload
	default:
		return reasonDispatch
	}
}

func (g *Gateway) trackStream(peer *wsPeer, cancel context.CancelFunc) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	g.conns[peer] = cancel
}

func (g *Gateway) untrackStream(peer *wsPeer) {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	delete(g.conns, peer)
}

// closeStreams ends every live stream; hijacked connections are not closed
// by http.Server.Shutdown. Cancelling a blocked read closes its connection.
func (g *Gateway) closeStreams() {
	g.connMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(g.conns))
	for _, cancel := range g.conns {
		cancels = append(cancels, cancel)
	}
	g.connMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
