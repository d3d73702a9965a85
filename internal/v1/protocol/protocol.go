// Package protocol defines the JSON frames exchanged with clients and the
// shape validation applied before dispatch. One WebSocket text frame carries
// exactly one JSON object; relayed payloads stay raw bytes end to end so key
// order and numeric precision survive the trip.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Inbound frame types.
const (
	TypeRegister       = "register"
	TypeInvite         = "invite"
	TypeInviteResponse = "invite-response"
	TypeInviteCancel   = "invite-cancel"
	TypeSignal         = "signal"
	TypePlayCommand    = "play-command"
	TypeLeave          = "leave"
	TypePing           = "ping"
)

// Outbound frame types. Invite, invite-response, signal and play-command
// reuse the inbound constants since they travel both directions.
const (
	TypeRegistered       = "registered"
	TypeClientsUpdated   = "clients-updated"
	TypeInviteSent       = "invite-sent"
	TypeInviteExpired    = "invite-expired"
	TypeInviteCancelled  = "invite-cancelled"
	TypeHostDisconnected = "host-disconnected"
	TypePong             = "pong"
	TypeError            = "error"
)

// Error text in this package is sent to clients verbatim.
var (
	// ErrInvalidJSON marks frames that are not parseable JSON at all.
	ErrInvalidJSON = errors.New("Invalid JSON")

	// ErrNotObject marks frames that parse as JSON but are not an object
	// with a usable type field. The router drops these silently.
	ErrNotObject = errors.New("frame is not a message object")

	// ErrBadRoomID marks roomId values outside ^[A-Z0-9]{4,12}$.
	ErrBadRoomID = errors.New("Invalid room ID")

	// ErrBadPayload marks payloads that fail to parse where a structured
	// payload is required.
	ErrBadPayload = errors.New("Invalid payload")
)

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

// ValidRoomID reports whether id is 4 to 12 uppercase letters or digits.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Message is the inbound frame envelope. Accepted is a pointer so that an
// explicit false survives validation, and Payload is raw bytes so relayed
// content (SDP, ICE candidates) is never re-encoded.
type Message struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Role        string          `json:"role,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	InviteID    string          `json:"inviteId,omitempty"`
	Accepted    *bool           `json:"accepted,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a single text frame into a Message. It distinguishes
// malformed JSON (ErrInvalidJSON, reported to the sender) from valid JSON
// that is not a message object (ErrNotObject, ignored).
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if json.Valid(data) {
			return nil, ErrNotObject
		}
		return nil, ErrInvalidJSON
	}
	return &m, nil
}

// ValidateShape checks per-type required fields and the roomId format.
// Authority and state checks happen in the signaling layer where room and
// invite state lives. Unknown types pass through; the router ignores them.
func (m *Message) ValidateShape() error {
	switch m.Type {
	case TypeRegister:
		if err := requireFields(field{"roomId", m.RoomID}, field{"clientId", m.ClientID}); err != nil {
			return err
		}
		return checkRoomID(m.RoomID)
	case TypeInvite:
		if err := requireFields(field{"roomId", m.RoomID}, field{"from", m.From}, field{"to", m.To}); err != nil {
			return err
		}
		return checkRoomID(m.RoomID)
	case TypeInviteResponse:
		if err := requireFields(field{"roomId", m.RoomID}, field{"from", m.From}, field{"to", m.To}); err != nil {
			return err
		}
		if m.Accepted == nil {
			return missingField("accepted")
		}
		return checkRoomID(m.RoomID)
	case TypeInviteCancel:
		return requireFields(field{"inviteId", m.InviteID}, field{"from", m.From})
	case TypeSignal:
		if err := requireFields(field{"roomId", m.RoomID}, field{"from", m.From}, field{"to", m.To}); err != nil {
			return err
		}
		if len(m.Payload) == 0 {
			return missingField("payload")
		}
		return checkRoomID(m.RoomID)
	case TypePlayCommand:
		if err := requireFields(field{"roomId", m.RoomID}, field{"from", m.From}); err != nil {
			return err
		}
		if len(m.Payload) == 0 {
			return missingField("payload")
		}
		return checkRoomID(m.RoomID)
	case TypeLeave:
		if err := requireFields(field{"roomId", m.RoomID}, field{"from", m.From}); err != nil {
			return err
		}
		return checkRoomID(m.RoomID)
	}
	return nil
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return missingField(f.name)
		}
	}
	return nil
}

func missingField(name string) error {
	return fmt.Errorf("Missing required field: %s", name)
}

func checkRoomID(id string) error {
	if !ValidRoomID(id) {
		return ErrBadRoomID
	}
	return nil
}

// PlayPayload is the playback instruction carried inside a play-command
// frame. Timestamp stays raw so client-provided values echo byte for byte.
type PlayPayload struct {
	Command   string          `json:"command"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ParsePlayPayload decodes and checks a play-command payload.
func ParsePlayPayload(raw json.RawMessage) (*PlayPayload, error) {
	var p PlayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrBadPayload
	}
	if p.Command == "" {
		return nil, missingField("command")
	}
	return &p, nil
}

// DefaultInvitePayload fills invite frames whose sender omitted a payload.
var DefaultInvitePayload = json.RawMessage(`{"role":"speaker","note":"Become my speaker?"}`)

// NowTimestamp renders the current time as the unix-millisecond literal used
// to stamp play-command frames that arrive without a timestamp.
func NowTimestamp() json.RawMessage {
	return json.RawMessage(strconv.FormatInt(time.Now().UnixMilli(), 10))
}
