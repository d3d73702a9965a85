package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wavecast/broker/internal/v1/invite"
	"github.com/wavecast/broker/internal/v1/room"
	"github.com/wavecast/broker/internal/v1/types"
)

// MockConn implements types.ClientInterface and records everything sent.
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

func (m *MockConn) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// Frames decodes every sent frame into generic maps.
func (m *MockConn) Frames(t *testing.T) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]map[string]any, 0, len(m.sent))
	for _, data := range m.sent {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		out = append(out, frame)
	}
	return out
}

// FramesOfType filters decoded frames by their type field.
func (m *MockConn) FramesOfType(t *testing.T, frameType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range m.Frames(t) {
		if f["type"] == frameType {
			out = append(out, f)
		}
	}
	return out
}

// LastFrame returns the most recently sent frame.
func (m *MockConn) LastFrame(t *testing.T) map[string]any {
	t.Helper()
	frames := m.Frames(t)
	require.NotEmpty(t, frames, "no frames sent")
	return frames[len(frames)-1]
}

func (m *MockConn) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// allowAll admits every frame; most tests are not about rate limiting.
type allowAll struct{}

func (allowAll) AllowFrame(context.Context, string) bool { return true }

// denyAll rejects every frame.
type denyAll struct{}

func (denyAll) AllowFrame(context.Context, string) bool { return false }

// fixture bundles a router with its state stores.
type fixture struct {
	registry *room.Registry
	ledger   *invite.Ledger
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureTTL(t, invite.DefaultTTL)
}

func newFixtureTTL(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	registry := room.NewRegistry()
	ledger := invite.NewLedger(ttl, time.Hour)
	t.Cleanup(ledger.Close)
	return &fixture{
		registry: registry,
		ledger:   ledger,
		router:   New(registry, ledger, allowAll{}),
	}
}

// frame sends a raw JSON string through the router as conn's next frame.
func (f *fixture) frame(conn types.ClientInterface, raw string) {
	f.router.HandleFrame(context.Background(), conn, []byte(raw))
}

// register runs a registration for conn and clears the resulting frames so
// tests start from a clean slate.
func (f *fixture) register(t *testing.T, conn *MockConn, roomID, clientID, displayName, role string) {
	t.Helper()
	f.frame(conn, fmt.Sprintf(
		`{"type":"register","roomId":%q,"clientId":%q,"displayName":%q,"role":%q}`,
		roomID, clientID, displayName, role))

	frames := conn.FramesOfType(t, "registered")
	require.Len(t, frames, 1, "registration failed for %s: %v", clientID, conn.Frames(t))
}

// setupRoom registers a host and two idle members in ROOM1 and clears all
// their frame logs.
func (f *fixture) setupRoom(t *testing.T) (host, alice, bob *MockConn) {
	t.Helper()
	host = NewMockConn("sess-host")
	alice = NewMockConn("sess-alice")
	bob = NewMockConn("sess-bob")

	f.register(t, host, "ROOM1", "H", "Hank", "host")
	f.register(t, alice, "ROOM1", "A", "Alice", "idle")
	f.register(t, bob, "ROOM1", "B", "Bob", "idle")

	host.Reset()
	alice.Reset()
	bob.Reset()
	return host, alice, bob
}

// liveInviteID issues an invite from host to target and returns its id.
func (f *fixture) liveInviteID(t *testing.T, host, target *MockConn, roomID, from, to string) string {
	t.Helper()
	f.frame(host, fmt.Sprintf(
		`{"type":"invite","roomId":%q,"from":%q,"to":%q}`, roomID, from, to))

	sent := host.FramesOfType(t, "invite-sent")
	require.Len(t, sent, 1)
	id, _ := sent[0]["inviteId"].(string)
	require.NotEmpty(t, id)

	host.Reset()
	target.Reset()
	return id
}
