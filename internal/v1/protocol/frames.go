package protocol

import "encoding/json"

// Outbound frames. Broadcast frames are marshaled once and the same bytes
// are fanned out to every recipient, so a roster snapshot can never differ
// between members of the same broadcast.

// RosterEntry is one member row inside registered and clients-updated.
type RosterEntry struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Registered acknowledges a successful register to the new member.
type Registered struct {
	Type        string        `json:"type"`
	ClientID    string        `json:"clientId"`
	DisplayName string        `json:"displayName"`
	Role        string        `json:"role"`
	RoomID      string        `json:"roomId"`
	Clients     []RosterEntry `json:"clients"`
}

// ClientsUpdated carries the full roster after any membership or role change.
type ClientsUpdated struct {
	Type    string        `json:"type"`
	Clients []RosterEntry `json:"clients"`
}

// InviteFrame is delivered to the invite target.
type InviteFrame struct {
	Type            string          `json:"type"`
	InviteID        string          `json:"inviteId"`
	From            string          `json:"from"`
	FromDisplayName string          `json:"fromDisplayName"`
	Payload         json.RawMessage `json:"payload"`
}

// InviteSent acknowledges invite delivery to the host.
type InviteSent struct {
	Type          string `json:"type"`
	InviteID      string `json:"inviteId"`
	To            string `json:"to"`
	ToDisplayName string `json:"toDisplayName"`
}

// InviteResponseFrame reports the target's decision to the host.
type InviteResponseFrame struct {
	Type            string `json:"type"`
	InviteID        string `json:"inviteId"`
	From            string `json:"from"`
	FromDisplayName string `json:"fromDisplayName"`
	Accepted        bool   `json:"accepted"`
}

// InviteExpired tells one party that an invite timed out. The host copy
// carries To (who was invited), the target copy carries From (who invited).
type InviteExpired struct {
	Type     string `json:"type"`
	InviteID string `json:"inviteId"`
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// InviteCancelled tells the target the host withdrew an invite.
type InviteCancelled struct {
	Type     string `json:"type"`
	InviteID string `json:"inviteId"`
	Reason   string `json:"reason,omitempty"`
}

// SignalFrame relays an opaque payload between two members.
type SignalFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// PlayCommandFrame fans a host playback instruction out to the room.
type PlayCommandFrame struct {
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// HostDisconnected notifies remaining members that the host is gone.
type HostDisconnected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// ErrorFrame reports a rejected frame to its sender. It never closes the
// connection by itself.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode marshals an outbound frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// EncodeError builds an error frame. Marshaling two plain strings cannot
// fail, so the result is always usable.
func EncodeError(message string) []byte {
	b, _ := json.Marshal(ErrorFrame{Type: TypeError, Message: message})
	return b
}

// EncodePong is the shared pong frame builder.
func EncodePong() []byte {
	b, _ := json.Marshal(Pong{Type: TypePong})
	return b
}
