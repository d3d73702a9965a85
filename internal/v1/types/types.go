package types

// --- Core Domain Types ---

// RoleType defines the role a member holds within a room.
type RoleType string

// ClientIdType represents the self-declared identifier for a client connection.
type ClientIdType string

// RoomIdType represents a unique identifier for an audio session room.
type RoomIdType string

// DisplayNameType represents the human-readable name for a member.
type DisplayNameType string

// Role constants define the member states within a room.
const (
	RoleTypeIdle    RoleType = "idle"    // Listeners without a speaking slot
	RoleTypeHost    RoleType = "host"    // The room owner driving playback
	RoleTypeSpeaker RoleType = "speaker" // Members promoted through a host invite
)

// ValidRegistrationRole reports whether a role may be requested at
// registration time. Speaker is only reachable through the invite workflow.
func ValidRegistrationRole(r RoleType) bool {
	return r == RoleTypeIdle || r == RoleTypeHost
}

// --- Shared Interfaces ---

// ClientInterface defines the behavior required from a WebSocket session.
// This allows the room and signaling packages to interact with connections
// without depending on the transport package.
type ClientInterface interface {
	// SessionID identifies the connection itself, independent of any
	// clientId the peer later declares.
	SessionID() string

	// Binding returns the room/client pair this session registered as,
	// or ok=false while the session is unbound.
	Binding() (RoomIdType, ClientIdType, bool)
	Bind(room RoomIdType, client ClientIdType)
	Unbind()

	// Send queues an already-marshaled frame. It never blocks; the frame
	// is dropped if the outbound queue is full. The return value is false
	// only when the connection is closed.
	Send(data []byte) bool

	// Disconnect forcefully closes the connection (e.g. when replaced).
	Disconnect()
}
