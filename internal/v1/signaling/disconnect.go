package signaling

import (
	"context"

	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/invite"
	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/protocol"
	"github.com/wavecast/broker/internal/v1/types"
)

// HandleDisconnect is called by the transport when a connection's read
// loop ends. Unbound sessions have no room state to clean up.
func (r *Router) HandleDisconnect(ctx context.Context, sess types.ClientInterface) {
	roomID, clientID, bound := sess.Binding()
	if !bound {
		return
	}
	r.dropMember(ctx, roomID, clientID, sess)
	sess.Unbind()
}

// dropMember runs the disconnect cascade, in order: remove the member,
// announce a lost host and demote its speakers, tear down the member's
// invites with the right notice per side, then either broadcast the
// repaired roster or let the registry delete the empty room. The conn
// guard makes a displaced session's late disconnect a no-op. Reports
// whether the member was actually removed.
func (r *Router) dropMember(ctx context.Context, roomID types.RoomIdType, clientID types.ClientIdType, conn types.ClientInterface) bool {
	res, ok := r.registry.RemoveMember(ctx, roomID, clientID, conn)
	if !ok {
		return false
	}

	ctx = logging.WithRoom(logging.WithClient(ctx, string(clientID)), string(roomID))
	logging.Info(ctx, "Client left",
		zap.Bool("was_host", res.WasHost),
		zap.Int("demoted_speakers", len(res.Demoted)))

	rm, live := r.registry.Get(roomID)

	if res.WasHost && live {
		broadcast(ctx, rm, protocol.HostDisconnected{
			Type:    protocol.TypeHostDisconnected,
			Message: "Host has disconnected",
		}, "")
	}

	for _, inv := range r.ledger.RemoveFor(roomID, clientID) {
		metrics.InviteOutcomes.WithLabelValues("disconnected").Inc()
		if !live {
			continue
		}
		if inv.From == clientID {
			// The issuing host vanished; the target's invite is void.
			if target, ok := rm.Member(inv.To); ok {
				sendTo(ctx, target, protocol.InviteCancelled{
					Type:     protocol.TypeInviteCancelled,
					InviteID: inv.ID,
					Reason:   "Host disconnected",
				})
			}
		} else {
			// The invited client vanished; tell the host to stop waiting.
			if host, ok := rm.Member(inv.From); ok {
				sendTo(ctx, host, protocol.InviteExpired{
					Type:     protocol.TypeInviteExpired,
					InviteID: inv.ID,
					To:       string(inv.To),
					Reason:   "Target disconnected",
				})
			}
		}
	}

	if live {
		broadcast(ctx, rm, protocol.ClientsUpdated{
			Type:    protocol.TypeClientsUpdated,
			Clients: res.Roster,
		}, "")
	}
	return true
}

// notifyExpired runs on ledger timer and sweeper goroutines when an invite
// reaches its deadline. The ledger already removed the entry, so this
// fires at most once per invite; both deliveries are best effort.
func (r *Router) notifyExpired(inv invite.Invite) {
	ctx := logging.WithRoom(context.Background(), string(inv.RoomID))
	metrics.InviteOutcomes.WithLabelValues("expired").Inc()

	rm, ok := r.registry.Get(inv.RoomID)
	if !ok {
		return
	}

	if host, ok := rm.Member(inv.From); ok {
		sendTo(ctx, host, protocol.InviteExpired{
			Type:     protocol.TypeInviteExpired,
			InviteID: inv.ID,
			To:       string(inv.To),
		})
	}
	if target, ok := rm.Member(inv.To); ok {
		sendTo(ctx, target, protocol.InviteExpired{
			Type:     protocol.TypeInviteExpired,
			InviteID: inv.ID,
			From:     string(inv.From),
		})
	}

	logging.Info(ctx, "Invite expired", zap.String("invite_id", inv.ID))
}
