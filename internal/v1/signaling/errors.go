package signaling

// Error frame text, sent to clients verbatim. State and validation errors
// originating in the room and invite packages carry their own text; these
// cover the checks the router performs itself.
const (
	ErrInvalidJSON     = "Invalid JSON"
	ErrRateLimited     = "Rate limit exceeded. Please slow down."
	ErrNotRegistered   = "Not registered"
	ErrSenderMismatch  = "Sender does not match registered client"
	ErrInvalidRole     = "Invalid role"
	ErrRoomNotFound    = "Room not found"
	ErrNotMember       = "You are not a member of this room"
	ErrTargetNotFound  = "Target client not found"
	ErrNotReachable    = "Client is not reachable"
	ErrNotHostInvite   = "Only the host can send invites"
	ErrNotHostPlay     = "Only the host can send play commands"
	ErrNoPendingInvite = "No pending invite"
	ErrNotYourInvite   = "Not your invite"
	ErrReplaced        = "Replaced by a new connection"
)
