package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/logging"
	"github.com/wavecast/broker/internal/v1/metrics"
)

// ConnGate admits or refuses a WebSocket upgrade request. On refusal the
// gate has already written the HTTP response. The rate limiter's per-IP
// check implements it.
type ConnGate interface {
	CheckWebSocket(c *gin.Context) bool
}

// Hub accepts WebSocket connections and tracks every live session, bound
// or not, so graceful shutdown can close all of them.
type Hub struct {
	dispatcher Dispatcher
	gate       ConnGate
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub wires the WebSocket surface. allowedOrigins gates the upgrade
// handshake; an empty list or a "*" entry allows every origin.
func NewHub(dispatcher Dispatcher, gate ConnGate, allowedOrigins []string) *Hub {
	h := &Hub{
		dispatcher: dispatcher,
		gate:       gate,
		sessions:   make(map[string]*Session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker builds the upgrade-time origin gate. Requests without an
// Origin header (non-browser clients, probes) pass.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return set[origin]
	}
}

// ServeWs is the gin handler for GET /ws. It applies the per-IP admission
// limit, upgrades, and starts the session pumps. The session begins
// unbound; only a register frame gives it room state.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.gate.CheckWebSocket(c) {
		return // response already written
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	// The request context dies with the HTTP handler; carry only the
	// correlation id into the session's lifetime.
	ctx := context.Background()
	if cid, ok := c.Request.Context().Value(logging.CorrelationIDKey).(string); ok {
		ctx = context.WithValue(ctx, logging.CorrelationIDKey, cid)
	}

	sess := newSession(ctx, conn, h.dispatcher, h.remove)
	h.add(sess)
	metrics.IncConnection()
	logging.Info(ctx, "WebSocket connected",
		zap.String("session_id", sess.id),
		zap.String("remote_addr", c.ClientIP()))

	go sess.writePump()
	go sess.readPump()
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.id)
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every live session and waits for their pumps to finish
// or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	logging.Info(ctx, "Closing WebSocket sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Disconnect()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if h.SessionCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
