// Package health serves the liveness and readiness probes. The broker has
// no external dependencies, so readiness reports internal state counts
// rather than dependency checks.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StateStats exposes the gauges readiness reports. The room registry,
// invite ledger and transport hub satisfy the individual methods.
type StateStats struct {
	Rooms       func() int
	Invites     func() int
	Connections func() int
}

// Handler manages health check endpoints
type Handler struct {
	stats StateStats
}

// NewHandler creates a new health check handler
func NewHandler(stats StateStats) *Handler {
	return &Handler{stats: stats}
}

// HealthResponse is the plain probe body.
type HealthResponse struct {
	Status string `json:"status"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string         `json:"status"`
	Checks    map[string]int `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Health handles the plain health probe.
// GET /health
// Returns 200 {"status":"ok"} whenever the broker is serving.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no state inspection)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// A running broker is always ready; the body carries current state counts
// for operators.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]int)
	if h.stats.Rooms != nil {
		checks["rooms"] = h.stats.Rooms()
	}
	if h.stats.Invites != nil {
		checks["invites"] = h.stats.Invites()
	}
	if h.stats.Connections != nil {
		checks["connections"] = h.stats.Connections()
	}

	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
