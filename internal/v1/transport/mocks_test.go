package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wavecast/broker/internal/v1/types"
)

// mockWsConn scripts inbound frames and records outbound writes.
type mockWsConn struct {
	mu     sync.Mutex
	inbox  []mockFrame
	writes []mockFrame
	closed bool

	pongHandler func(string) error
	readLimit   int64

	// readGate blocks ReadMessage after the inbox drains until Close.
	readGate chan struct{}
	gateOnce sync.Once
}

type mockFrame struct {
	messageType int
	data        []byte
}

func newMockWsConn(frames ...mockFrame) *mockWsConn {
	return &mockWsConn{inbox: frames, readGate: make(chan struct{})}
}

var errMockClosed = errors.New("mock connection closed")

func (m *mockWsConn) ReadMessage() (int, []byte, error) {
	m.mu.Lock()
	if len(m.inbox) > 0 {
		frame := m.inbox[0]
		m.inbox = m.inbox[1:]
		m.mu.Unlock()
		return frame.messageType, frame.data, nil
	}
	m.mu.Unlock()

	// Block like a real socket until the connection closes.
	<-m.readGate
	return 0, nil, errMockClosed
}

func (m *mockWsConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMockClosed
	}
	m.writes = append(m.writes, mockFrame{messageType: messageType, data: data})
	return nil
}

func (m *mockWsConn) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.gateOnce.Do(func() { close(m.readGate) })
	return nil
}

func (m *mockWsConn) SetWriteDeadline(time.Time) error { return nil }
func (m *mockWsConn) SetReadDeadline(time.Time) error  { return nil }

func (m *mockWsConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *mockWsConn) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *mockWsConn) Writes() []mockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockFrame, len(m.writes))
	copy(out, m.writes)
	return out
}

// mockDispatcher records the frames and disconnects it sees.
type mockDispatcher struct {
	mu          sync.Mutex
	frames      [][]byte
	disconnects []types.ClientInterface
	done        chan struct{} // closed on first disconnect
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{done: make(chan struct{})}
}

func (d *mockDispatcher) HandleFrame(_ context.Context, _ types.ClientInterface, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	d.frames = append(d.frames, buf)
}

func (d *mockDispatcher) HandleDisconnect(_ context.Context, sess types.ClientInterface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects = append(d.disconnects, sess)
	if len(d.disconnects) == 1 {
		close(d.done)
	}
}

func (d *mockDispatcher) Frames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.frames))
	copy(out, d.frames)
	return out
}

func (d *mockDispatcher) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.disconnects)
}
