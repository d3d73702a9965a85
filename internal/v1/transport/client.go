// Package transport owns the WebSocket surface: the upgrade path, one
// read and one write goroutine per connection, keepalive, and graceful
// shutdown. Everything above the frame level is delegated to a Dispatcher.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/types"
)

// Dispatcher consumes inbound frames and connection-close events. The
// signaling router implements it.
type Dispatcher interface {
	HandleFrame(ctx context.Context, sess types.ClientInterface, data []byte)
	HandleDisconnect(ctx context.Context, sess types.ClientInterface)
}

// wsConnection is the slice of *websocket.Conn the session uses, kept as
// an interface so tests can drive the pumps without a network.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

const (
	// writeWait bounds every write so a dead peer cannot wedge the pump.
	writeWait = 10 * time.Second

	// pongWait is how long the read side tolerates silence. The peer must
	// answer a ping within this window or the connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod is the keepalive interval; it must be under pongWait.
	pingPeriod = 30 * time.Second

	// maxMessageSize caps inbound frames. Signaling payloads (SDP, ICE)
	// stay well under this.
	maxMessageSize = 64 * 1024

	// sendQueueSize is the outbound buffer per connection. A full queue
	// drops frames rather than blocking the sender.
	sendQueueSize = 64
)

// Session is one WebSocket connection. It implements types.ClientInterface
// for the room and signaling packages: the read pump is the only reader,
// the write pump the only writer, and Send never blocks.
type Session struct {
	id         string
	conn       wsConnection
	dispatcher Dispatcher
	onClose    func(*Session)
	ctx        context.Context

	send chan []byte

	mu        sync.RWMutex
	closed    bool
	roomID    types.RoomIdType
	clientID  types.ClientIdType
	bound     bool
	closeOnce sync.Once
}

func newSession(ctx context.Context, conn wsConnection, dispatcher Dispatcher, onClose func(*Session)) *Session {
	return &Session{
		id:         uuid.NewString(),
		conn:       conn,
		dispatcher: dispatcher,
		onClose:    onClose,
		ctx:        ctx,
		send:       make(chan []byte, sendQueueSize),
	}
}

// SessionID identifies the connection itself; the rate limiter keys on it.
func (s *Session) SessionID() string { return s.id }

// Binding returns the registered identity, if any.
func (s *Session) Binding() (types.RoomIdType, types.ClientIdType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.clientID, s.bound
}

// Bind records the identity this session registered as.
func (s *Session) Bind(room types.RoomIdType, client types.ClientIdType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID, s.clientID, s.bound = room, client, true
}

// Unbind clears the registered identity; the connection stays open.
func (s *Session) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID, s.clientID, s.bound = "", "", false
}

// Send queues an already-marshaled frame for the write pump. It never
// blocks: a full queue drops the frame (slow peers must not stall the
// room), and only a closed connection returns false.
func (s *Session) Send(data []byte) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	s.mu.RUnlock()

	// The queue can close between the check and the send; treat that
	// race like any other send to a closed connection.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Send raced session close", zap.String("session_id", s.id))
		}
	}()

	select {
	case s.send <- data:
	default:
		metrics.DroppedFrames.Inc()
		logging.Warn(s.ctx, "Send queue full, dropping frame", zap.String("session_id", s.id))
	}
	return true
}

// Disconnect closes the session from the broker side. Closing the send
// queue makes the write pump drain, emit a close frame, and drop the
// connection, which in turn ends the read pump.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.send)
	})
}

// readPump is the connection's only reader. Each frame is fully dispatched
// before the next read, so frames from one connection apply in arrival
// order. On exit it drives the disconnect cascade and final teardown.
func (s *Session) readPump() {
	defer func() {
		s.dispatcher.HandleDisconnect(s.ctx, s)
		s.Disconnect()
		if s.onClose != nil {
			s.onClose(s)
		}
		_ = s.conn.Close()
		metrics.DecConnection()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.GetLogger().Debug("Read loop ended", zap.String("session_id", s.id), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatcher.HandleFrame(s.ctx, s, data)
	}
}

// writePump is the connection's only writer: queued frames plus the
// keepalive pings that arm the peer's pong responses.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.GetLogger().Debug("Write failed", zap.String("session_id", s.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
