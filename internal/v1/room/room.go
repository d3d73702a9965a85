package room

import (
	"errors"
	"sync"

	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/protocol"
	"github.com/wavecast/broker/internal/v1/types"
)

// Member is one registered participant. Values handed to callers are
// copies; the authoritative state lives behind the room lock and may only
// be mutated through Room methods.
type Member struct {
	ClientID    types.ClientIdType
	DisplayName types.DisplayNameType
	Role        types.RoleType
	Conn        types.ClientInterface
}

// Room holds the authoritative roster for one session.
type Room struct {
	ID types.RoomIdType

	mu      sync.RWMutex
	members map[types.ClientIdType]*Member
	order   []types.ClientIdType // join order, stable across in-place replacement
	closed  bool                 // set once the registry deletes the room
}

// errRoomClosed signals that a register lost the race against room garbage
// collection and should retry against a fresh room.
var errRoomClosed = errors.New("room closed")

func newRoom(id types.RoomIdType) *Room {
	return &Room{
		ID:      id,
		members: make(map[types.ClientIdType]*Member),
	}
}

// Len returns the current member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Member returns a copy of the member with the given id.
func (r *Room) Member(id types.ClientIdType) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Host returns a copy of the member currently holding the host role.
func (r *Room) Host() (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.Role == types.RoleTypeHost {
			return *m, true
		}
	}
	return Member{}, false
}

// SetRole updates a member's role and returns the updated copy.
func (r *Room) SetRole(id types.ClientIdType, role types.RoleType) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	m.Role = role
	return *m, true
}

// Roster returns the join-ordered roster snapshot.
func (r *Room) Roster() []protocol.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []protocol.RosterEntry {
	roster := make([]protocol.RosterEntry, 0, len(r.members))
	for _, id := range r.order {
		m := r.members[id]
		roster = append(roster, protocol.RosterEntry{
			ClientID:    string(m.ClientID),
			DisplayName: string(m.DisplayName),
			Role:        string(m.Role),
		})
	}
	return roster
}

// Broadcast fans already-marshaled bytes out to every member except
// exclude. Sends are non-blocking, so holding the read lock is safe. The
// return value counts members whose connection accepted the frame.
func (r *Room) Broadcast(data []byte, exclude types.ClientIdType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		if m := r.members[id]; m != nil && m.Conn.Send(data) {
			n++
		}
	}
	return n
}

func (r *Room) register(p RegisterParams) (RegisterResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RegisterResult{}, errRoomClosed
	}

	existing := r.members[p.ClientID]

	// One host per room. Re-registering the current host is fine.
	if p.Role == types.RoleTypeHost {
		for _, m := range r.members {
			if m.Role == types.RoleTypeHost && m.ClientID != p.ClientID {
				return RegisterResult{}, ErrRoomHasHost
			}
		}
	}
	if existing == nil && len(r.members) >= MaxMembersPerRoom {
		return RegisterResult{}, ErrRoomFull
	}

	name := r.resolveDisplayNameLocked(p.ClientID, p.DisplayName)

	var displaced types.ClientInterface
	if existing != nil {
		// Replace in place: same join-order position, fresh identity.
		if existing.Conn != p.Conn {
			displaced = existing.Conn
		}
		existing.DisplayName = name
		existing.Role = p.Role
		existing.Conn = p.Conn
	} else {
		r.members[p.ClientID] = &Member{
			ClientID:    p.ClientID,
			DisplayName: name,
			Role:        p.Role,
			Conn:        p.Conn,
		}
		r.order = append(r.order, p.ClientID)
	}
	metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))

	return RegisterResult{
		Member:    *r.members[p.ClientID],
		Roster:    r.rosterLocked(),
		Displaced: displaced,
	}, nil
}

// RemoveResult describes the roster effects of removing one member.
type RemoveResult struct {
	Member  Member
	WasHost bool
	Demoted []types.ClientIdType   // speakers reset to idle when the host left
	Roster  []protocol.RosterEntry // snapshot after removal and demotion
	Empty   bool
}

func (r *Room) removeMember(id types.ClientIdType, conn types.ClientInterface) (RemoveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return RemoveResult{}, false
	}
	if conn != nil && m.Conn != conn {
		// A replaced connection closing late must not evict its successor.
		return RemoveResult{}, false
	}

	delete(r.members, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	res := RemoveResult{Member: *m, WasHost: m.Role == types.RoleTypeHost}
	if res.WasHost {
		for _, oid := range r.order {
			if other := r.members[oid]; other.Role == types.RoleTypeSpeaker {
				other.Role = types.RoleTypeIdle
				res.Demoted = append(res.Demoted, other.ClientID)
			}
		}
	}
	res.Roster = r.rosterLocked()
	res.Empty = len(r.members) == 0
	metrics.RoomMembers.WithLabelValues(string(r.ID)).Set(float64(len(r.members)))

	return res, true
}
