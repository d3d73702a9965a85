package room

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/protocol"
	"github.com/wavecast/broker/internal/v1/types"
)

// Limits guarding in-memory state growth.
const (
	// MaxMembersPerRoom is the maximum allowed members in a room.
	MaxMembersPerRoom = 100
	// MaxRooms is the maximum number of concurrently live rooms.
	MaxRooms = 10000
)

// Error text in this package is sent to clients verbatim.
var (
	ErrRoomHasHost = errors.New("Room already has a host")
	ErrRoomFull    = errors.New("Room is full")
	ErrServerFull  = errors.New("Server at capacity")
)

// Registry is the process-wide room table. Rooms are created by the first
// register and deleted the moment the last member leaves; an empty room
// never survives an operation.
type Registry struct {
	mu    sync.RWMutex
	rooms map[types.RoomIdType]*Room
}

// NewRegistry creates an empty room table.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[types.RoomIdType]*Room)}
}

// RegisterParams carries one registration request. Role must already be
// defaulted; DisplayName may be empty, in which case a pool name is drawn.
type RegisterParams struct {
	RoomID      types.RoomIdType
	ClientID    types.ClientIdType
	DisplayName string
	Role        types.RoleType
	Conn        types.ClientInterface
}

// RegisterResult reports a successful registration.
type RegisterResult struct {
	Member Member
	Roster []protocol.RosterEntry
	// Displaced is the previous connection when the clientId was already
	// registered from elsewhere. The caller owes it a final error and a
	// close.
	Displaced   types.ClientInterface
	RoomCreated bool
}

// Register adds or replaces a member, creating the room when it is the
// first one in. Failed registrations leave no state behind.
func (reg *Registry) Register(ctx context.Context, p RegisterParams) (RegisterResult, error) {
	for {
		rm, created, err := reg.getOrCreate(p.RoomID)
		if err != nil {
			return RegisterResult{}, err
		}

		res, err := rm.register(p)
		if errors.Is(err, errRoomClosed) {
			// Lost the race against garbage collection; take a fresh room.
			continue
		}
		if err != nil {
			return RegisterResult{}, err
		}

		res.RoomCreated = created
		if created {
			metrics.ActiveRooms.Inc()
			logging.Info(ctx, "Room created", zap.String("room_id", string(p.RoomID)))
		}
		return res, nil
	}
}

func (reg *Registry) getOrCreate(id types.RoomIdType) (*Room, bool, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rm, ok := reg.rooms[id]; ok {
		return rm, false, nil
	}
	if len(reg.rooms) >= MaxRooms {
		return nil, false, ErrServerFull
	}
	rm := newRoom(id)
	reg.rooms[id] = rm
	return rm, true, nil
}

// Get returns the live room with the given id.
func (reg *Registry) Get(id types.RoomIdType) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rm, ok := reg.rooms[id]
	return rm, ok
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// RemoveMember removes a member and garbage-collects the room when it was
// the last one. A non-nil conn restricts the removal to the connection
// that still owns the membership, so a displaced session closing late
// cannot evict its replacement.
func (reg *Registry) RemoveMember(ctx context.Context, roomID types.RoomIdType, clientID types.ClientIdType, conn types.ClientInterface) (RemoveResult, bool) {
	rm, ok := reg.Get(roomID)
	if !ok {
		return RemoveResult{}, false
	}

	res, ok := rm.removeMember(clientID, conn)
	if !ok {
		return RemoveResult{}, false
	}
	if res.Empty {
		reg.deleteIfEmpty(ctx, rm)
	}
	return res, true
}

// deleteIfEmpty drops a room from the table. Registrations may land
// between the removal that emptied the room and this call, so emptiness
// and map identity are re-checked under both locks.
func (reg *Registry) deleteIfEmpty(ctx context.Context, rm *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if current, ok := reg.rooms[rm.ID]; !ok || current != rm {
		return
	}
	if rm.closed || len(rm.members) > 0 {
		return
	}
	rm.closed = true
	delete(reg.rooms, rm.ID)

	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(string(rm.ID))
	logging.Info(ctx, "Room deleted", zap.String("room_id", string(rm.ID)))
}
