// Package signaling is the broker's protocol state machine. The Router owns
// every inbound frame after the transport reads it: admission, decoding,
// shape validation, authority checks, and the state mutations on the room
// registry and invite ledger, plus the disconnect cascade and invite-expiry
// notifications.
package signaling

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/invite"
	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/protocol"
	"github.com/wavecast/broker/internal/v1/room"
	"github.com/wavecast/broker/internal/v1/types"
)

// FrameLimiter admits or rejects one inbound frame for a session.
type FrameLimiter interface {
	AllowFrame(ctx context.Context, sessionID string) bool
}

// Frame dispatch outcomes recorded in the frames_total metric.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusIgnored     = "ignored"
	statusRateLimited = "rate_limited"
)

// Router dispatches inbound frames and applies their effects. All handlers
// for one connection run on that connection's read goroutine; cross-room
// work never blocks because every outbound send is non-blocking.
type Router struct {
	registry *room.Registry
	ledger   *invite.Ledger
	limiter  FrameLimiter
}

// New wires the router to its state stores and takes over the ledger's
// expiry notifications.
func New(registry *room.Registry, ledger *invite.Ledger, limiter FrameLimiter) *Router {
	r := &Router{
		registry: registry,
		ledger:   ledger,
		limiter:  limiter,
	}
	ledger.OnExpire(r.notifyExpired)
	return r
}

// HandleFrame processes one inbound text frame end to end: rate limit,
// decode, shape validation, dispatch. Nothing in here closes the
// connection; every rejection is an error frame back to the sender.
func (r *Router) HandleFrame(ctx context.Context, sess types.ClientInterface, data []byte) {
	if !r.limiter.AllowFrame(ctx, sess.SessionID()) {
		metrics.RateLimitedFrames.Inc()
		metrics.Frames.WithLabelValues("unknown", statusRateLimited).Inc()
		sess.Send(protocol.EncodeError(ErrRateLimited))
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if err == protocol.ErrNotObject {
			metrics.Frames.WithLabelValues("unknown", statusIgnored).Inc()
			return
		}
		metrics.Frames.WithLabelValues("unknown", statusError).Inc()
		sess.Send(protocol.EncodeError(ErrInvalidJSON))
		return
	}

	start := time.Now()
	status := r.dispatch(ctx, sess, msg)
	metrics.Frames.WithLabelValues(msg.Type, status).Inc()
	metrics.DispatchDuration.WithLabelValues(msg.Type).Observe(time.Since(start).Seconds())
}

func (r *Router) dispatch(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	// Ping is the only stateless frame; it bypasses shape validation and
	// the bound-session gate so clients can probe before registering.
	if msg.Type == protocol.TypePing {
		sess.Send(protocol.EncodePong())
		return statusOK
	}

	if err := msg.ValidateShape(); err != nil {
		sess.Send(protocol.EncodeError(err.Error()))
		return statusError
	}

	switch msg.Type {
	case protocol.TypeRegister:
		return r.handleRegister(ctx, sess, msg)
	case protocol.TypeInvite, protocol.TypeInviteResponse, protocol.TypeInviteCancel,
		protocol.TypeSignal, protocol.TypePlayCommand, protocol.TypeLeave:
		boundRoom, boundClient, bound := sess.Binding()
		if !bound {
			sess.Send(protocol.EncodeError(ErrNotRegistered))
			return statusError
		}
		// A connection may only speak for the identity it registered as;
		// a from field naming anyone else is a forgery, not a message.
		if types.ClientIdType(msg.From) != boundClient {
			sess.Send(protocol.EncodeError(ErrSenderMismatch))
			return statusError
		}
		// invite-cancel carries no roomId; the ledger's record is checked
		// against the sender in its handler instead.
		if msg.Type != protocol.TypeInviteCancel && types.RoomIdType(msg.RoomID) != boundRoom {
			sess.Send(protocol.EncodeError(ErrNotMember))
			return statusError
		}
	default:
		// Unknown types are ignored for forward compatibility.
		logging.Debug(ctx, "Ignoring unknown frame type", zap.String("frame_type", msg.Type))
		return statusIgnored
	}

	switch msg.Type {
	case protocol.TypeInvite:
		return r.handleInvite(ctx, sess, msg)
	case protocol.TypeInviteResponse:
		return r.handleInviteResponse(ctx, sess, msg)
	case protocol.TypeInviteCancel:
		return r.handleInviteCancel(ctx, sess, msg)
	case protocol.TypeSignal:
		return r.handleSignal(ctx, sess, msg)
	case protocol.TypePlayCommand:
		return r.handlePlayCommand(ctx, sess, msg)
	default: // protocol.TypeLeave
		return r.handleLeave(ctx, sess, msg)
	}
}

// sendTo marshals a frame and queues it on one member's connection.
func sendTo(ctx context.Context, m room.Member, frame any) bool {
	data, err := protocol.Encode(frame)
	if err != nil {
		logging.Error(ctx, "Failed to encode outbound frame", zap.Error(err))
		return false
	}
	return m.Conn.Send(data)
}

// broadcast marshals a frame once and fans it out to every member of the
// room except exclude.
func broadcast(ctx context.Context, rm *room.Room, frame any, exclude types.ClientIdType) {
	data, err := protocol.Encode(frame)
	if err != nil {
		logging.Error(ctx, "Failed to encode broadcast frame", zap.Error(err))
		return
	}
	rm.Broadcast(data, exclude)
}
