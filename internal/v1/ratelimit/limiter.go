// Package ratelimit enforces the per-connection frame window and the
// per-IP WebSocket admission limit over one in-memory store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/wavecast/broker/internal/v1/logging"
)

// Frame window constants. Fixed window: the frame that lands exactly on
// the limit is still processed, the one after it is rejected.
const (
	FrameWindow = 10 * time.Second
	FrameLimit  = 60
)

// ErrLimited text is sent to clients verbatim.
var ErrLimited = errors.New("Rate limit exceeded. Please slow down.")

// Limiter bundles the frame-rate and connection-admission checks. Frame
// counting is keyed by session id, admission by client IP, so the shared
// store never mixes the two.
type Limiter struct {
	frames *limiter.Limiter
	wsIP   *limiter.Limiter
}

// New builds the limiter. wsIPRate uses the ulule formatted syntax, e.g.
// "120-M" for 120 connections per IP per minute.
func New(wsIPRate string) (*Limiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()
	return &Limiter{
		frames: limiter.New(store, limiter.Rate{Period: FrameWindow, Limit: FrameLimit}),
		wsIP:   limiter.New(store, ipRate),
	}, nil
}

// AllowFrame counts one inbound frame against the session's window and
// reports whether it may be processed. Every frame counts, ping included,
// before any decoding. Fails open on store errors so a broken limiter
// never drops traffic.
func (l *Limiter) AllowFrame(ctx context.Context, sessionID string) bool {
	lctx, err := l.frames.Get(ctx, sessionID)
	if err != nil {
		logging.Error(ctx, "Frame limiter store failed", zap.Error(err))
		return true
	}
	return !lctx.Reached
}

// CheckWebSocket gates connection establishment per client IP. On refusal
// it writes the 429 response and returns false.
func (l *Limiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ipCtx, err := l.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // fail open
	}

	if ipCtx.Reached {
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}
