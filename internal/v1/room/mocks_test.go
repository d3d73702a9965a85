package room

import (
	"sync"

	"github.com/wavecast/broker/internal/v1/types"
)

// MockConn implements types.ClientInterface for testing
type MockConn struct {
	Session string

	mu           sync.Mutex
	sent         [][]byte
	disconnected bool
	closed       bool

	roomID   types.RoomIdType
	clientID types.ClientIdType
	bound    bool
}

func NewMockConn(session string) *MockConn {
	return &MockConn{Session: session}
}

func (m *MockConn) SessionID() string { return m.Session }

func (m *MockConn) Binding() (types.RoomIdType, types.ClientIdType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID, m.clientID, m.bound
}

func (m *MockConn) Bind(room types.RoomIdType, client types.ClientIdType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID, m.clientID, m.bound = room, client, true
}

func (m *MockConn) Unbind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID, m.clientID, m.bound = "", "", false
}

func (m *MockConn) Send(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.sent = append(m.sent, data)
	return true
}

func (m *MockConn) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.closed = true
}

// Close marks the connection unreachable without the disconnect flag, to
// simulate a peer that dropped on its own.
func (m *MockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockConn) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockConn) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}
