package signaling

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/protocol"
	"github.com/wavecast/broker/internal/v1/room"
	"github.com/wavecast/broker/internal/v1/types"
)

// handleRegister creates or replaces a membership and binds the session.
// The new member sees `registered` before anyone else sees the matching
// `clients-updated`, and both carry the same roster snapshot.
func (r *Router) handleRegister(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	roomID := types.RoomIdType(msg.RoomID)
	clientID := types.ClientIdType(msg.ClientID)

	role := types.RoleType(msg.Role)
	if role == "" {
		role = types.RoleTypeIdle
	}
	if !types.ValidRegistrationRole(role) {
		sess.Send(protocol.EncodeError(ErrInvalidRole))
		return statusError
	}

	res, err := r.registry.Register(ctx, room.RegisterParams{
		RoomID:      roomID,
		ClientID:    clientID,
		DisplayName: msg.DisplayName,
		Role:        role,
		Conn:        sess,
	})
	if err != nil {
		// A failed switch must not cost the client its current membership,
		// so any old binding stays untouched until Register holds.
		sess.Send(protocol.EncodeError(err.Error()))
		return statusError
	}

	// A bound session switching identity now leaves its old room, with the
	// full disconnect cascade, so the old room never carries a ghost.
	if oldRoom, oldClient, bound := sess.Binding(); bound && (oldRoom != roomID || oldClient != clientID) {
		r.dropMember(ctx, oldRoom, oldClient, sess)
		sess.Unbind()
	}

	// The previous connection for this clientId gets a final error and is
	// closed; unbinding it first keeps its late disconnect from cascading.
	if res.Displaced != nil {
		res.Displaced.Unbind()
		res.Displaced.Send(protocol.EncodeError(ErrReplaced))
		res.Displaced.Disconnect()
	}

	sess.Bind(roomID, clientID)

	ctx = logging.WithRoom(logging.WithClient(ctx, string(clientID)), string(roomID))
	logging.Info(ctx, "Client registered",
		zap.String("display_name", string(res.Member.DisplayName)),
		zap.String("role", string(res.Member.Role)))

	// A same-room identity switch mutates the roster after Register, so
	// snapshot it again once the cascade is done.
	roster := res.Roster
	rm, live := r.registry.Get(roomID)
	if live {
		roster = rm.Roster()
	}

	sess.Send(mustEncode(protocol.Registered{
		Type:        protocol.TypeRegistered,
		ClientID:    string(res.Member.ClientID),
		DisplayName: string(res.Member.DisplayName),
		Role:        string(res.Member.Role),
		RoomID:      string(roomID),
		Clients:     roster,
	}))

	if live {
		broadcast(ctx, rm, protocol.ClientsUpdated{
			Type:    protocol.TypeClientsUpdated,
			Clients: roster,
		}, clientID)
	}
	return statusOK
}

// handleInvite validates host authority, records the invite, and delivers
// it. An undeliverable invite is rolled back before the host hears about
// it, so the ledger never carries an invite the target cannot see.
func (r *Router) handleInvite(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	roomID := types.RoomIdType(msg.RoomID)

	rm, ok := r.registry.Get(roomID)
	if !ok {
		sess.Send(protocol.EncodeError(ErrRoomNotFound))
		return statusError
	}
	host, ok := rm.Host()
	if !ok || host.ClientID != types.ClientIdType(msg.From) {
		sess.Send(protocol.EncodeError(ErrNotHostInvite))
		return statusError
	}
	target, ok := rm.Member(types.ClientIdType(msg.To))
	if !ok {
		sess.Send(protocol.EncodeError(ErrTargetNotFound))
		return statusError
	}

	payload := msg.Payload
	if len(payload) == 0 {
		payload = protocol.DefaultInvitePayload
	}

	inv, err := r.ledger.Create(roomID, host.ClientID, target.ClientID, payload)
	if err != nil {
		sess.Send(protocol.EncodeError(err.Error()))
		return statusError
	}

	delivered := sendTo(ctx, target, protocol.InviteFrame{
		Type:            protocol.TypeInvite,
		InviteID:        inv.ID,
		From:            string(host.ClientID),
		FromDisplayName: string(host.DisplayName),
		Payload:         payload,
	})
	if !delivered {
		r.ledger.Remove(inv.ID)
		sess.Send(protocol.EncodeError(ErrNotReachable))
		return statusError
	}

	sess.Send(mustEncode(protocol.InviteSent{
		Type:          protocol.TypeInviteSent,
		InviteID:      inv.ID,
		To:            string(target.ClientID),
		ToDisplayName: string(target.DisplayName),
	}))

	logging.Info(logging.WithRoom(ctx, msg.RoomID), "Invite sent",
		zap.String("invite_id", inv.ID),
		zap.String("from", msg.From),
		zap.String("to", msg.To))
	return statusOK
}

// handleInviteResponse resolves a live invite. msg.From is the responder,
// msg.To the host who issued the invite. Removing the ledger entry is the
// exactly-once gate; a response racing expiry or cancel finds nothing and
// reports a stale invite.
func (r *Router) handleInviteResponse(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	roomID := types.RoomIdType(msg.RoomID)
	responderID := types.ClientIdType(msg.From)
	hostID := types.ClientIdType(msg.To)

	rm, ok := r.registry.Get(roomID)
	if !ok {
		sess.Send(protocol.EncodeError(ErrRoomNotFound))
		return statusError
	}

	inv, ok := r.ledger.ByPair(roomID, hostID, responderID)
	if !ok {
		sess.Send(protocol.EncodeError(ErrNoPendingInvite))
		return statusError
	}
	if _, ok := r.ledger.Remove(inv.ID); !ok {
		// A terminal event got there first; this response is stale.
		sess.Send(protocol.EncodeError(ErrNoPendingInvite))
		return statusError
	}

	accepted := msg.Accepted != nil && *msg.Accepted
	if accepted {
		rm.SetRole(responderID, types.RoleTypeSpeaker)
		metrics.InviteOutcomes.WithLabelValues("accepted").Inc()
	} else {
		metrics.InviteOutcomes.WithLabelValues("declined").Inc()
	}

	// Clients that tracked the id echo it back; older ones rely on the
	// pair lookup, so the ledger's id fills the gap.
	inviteID := msg.InviteID
	if inviteID == "" {
		inviteID = inv.ID
	}

	responder, _ := rm.Member(responderID)
	if host, ok := rm.Member(hostID); ok {
		sendTo(ctx, host, protocol.InviteResponseFrame{
			Type:            protocol.TypeInviteResponse,
			InviteID:        inviteID,
			From:            string(responderID),
			FromDisplayName: string(responder.DisplayName),
			Accepted:        accepted,
		})
	}

	// Roster changes only on acceptance; declines stay invisible to the room.
	if accepted {
		broadcast(ctx, rm, protocol.ClientsUpdated{
			Type:    protocol.TypeClientsUpdated,
			Clients: rm.Roster(),
		}, "")
	}

	logging.Info(logging.WithRoom(ctx, msg.RoomID), "Invite resolved",
		zap.String("invite_id", inv.ID),
		zap.Bool("accepted", accepted))
	return statusOK
}

// handleInviteCancel withdraws a live invite. Unknown ids are a silent
// no-op so a duplicate cancel yields exactly one invite-cancelled.
func (r *Router) handleInviteCancel(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	inv, ok := r.ledger.ByID(msg.InviteID)
	if !ok {
		return statusOK
	}
	if inv.From != types.ClientIdType(msg.From) {
		sess.Send(protocol.EncodeError(ErrNotYourInvite))
		return statusError
	}
	if _, ok := r.ledger.Remove(inv.ID); !ok {
		return statusOK
	}
	metrics.InviteOutcomes.WithLabelValues("cancelled").Inc()

	if rm, ok := r.registry.Get(inv.RoomID); ok {
		if target, ok := rm.Member(inv.To); ok {
			sendTo(ctx, target, protocol.InviteCancelled{
				Type:     protocol.TypeInviteCancelled,
				InviteID: inv.ID,
			})
		}
	}

	logging.Info(logging.WithRoom(ctx, string(inv.RoomID)), "Invite cancelled",
		zap.String("invite_id", inv.ID))
	return statusOK
}

// handleSignal relays an opaque payload between two members of the same
// room. The payload bytes pass through untouched.
func (r *Router) handleSignal(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	rm, ok := r.registry.Get(types.RoomIdType(msg.RoomID))
	if !ok {
		sess.Send(protocol.EncodeError(ErrRoomNotFound))
		return statusError
	}
	if _, ok := rm.Member(types.ClientIdType(msg.From)); !ok {
		sess.Send(protocol.EncodeError(ErrNotMember))
		return statusError
	}
	target, ok := rm.Member(types.ClientIdType(msg.To))
	if !ok {
		sess.Send(protocol.EncodeError(ErrTargetNotFound))
		return statusError
	}

	delivered := sendTo(ctx, target, protocol.SignalFrame{
		Type:    protocol.TypeSignal,
		From:    msg.From,
		Payload: msg.Payload,
	})
	if !delivered {
		sess.Send(protocol.EncodeError(ErrTargetNotFound))
		return statusError
	}
	return statusOK
}

// handlePlayCommand fans a host playback instruction out to the rest of
// the room, stamping a timestamp when the host did not supply one.
func (r *Router) handlePlayCommand(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	payload, err := protocol.ParsePlayPayload(msg.Payload)
	if err != nil {
		sess.Send(protocol.EncodeError(err.Error()))
		return statusError
	}

	rm, ok := r.registry.Get(types.RoomIdType(msg.RoomID))
	if !ok {
		sess.Send(protocol.EncodeError(ErrRoomNotFound))
		return statusError
	}
	host, ok := rm.Host()
	if !ok || host.ClientID != types.ClientIdType(msg.From) {
		sess.Send(protocol.EncodeError(ErrNotHostPlay))
		return statusError
	}

	timestamp := payload.Timestamp
	if len(timestamp) == 0 {
		timestamp = protocol.NowTimestamp()
	}

	broadcast(ctx, rm, protocol.PlayCommandFrame{
		Type:      protocol.TypePlayCommand,
		Command:   payload.Command,
		Timestamp: timestamp,
	}, host.ClientID)

	logging.Info(logging.WithRoom(ctx, msg.RoomID), "Play command broadcast",
		zap.String("command", payload.Command))
	return statusOK
}

// handleLeave is explicit disconnect intent: the membership goes away with
// the full cascade, but the connection stays open and may re-register. The
// binding survives unless the member really came out of the roster, so a
// no-op removal cannot strand a ghost member behind an unbound session.
func (r *Router) handleLeave(ctx context.Context, sess types.ClientInterface, msg *protocol.Message) string {
	if r.dropMember(ctx, types.RoomIdType(msg.RoomID), types.ClientIdType(msg.From), sess) {
		sess.Unbind()
	}
	return statusOK
}

// mustEncode marshals frames built entirely from broker-owned values.
func mustEncode(frame any) []byte {
	data, err := protocol.Encode(frame)
	if err != nil {
		// Unreachable for the frame structs in this package.
		panic(errors.New("signaling: failed to encode frame: " + err.Error()))
	}
	return data
}
