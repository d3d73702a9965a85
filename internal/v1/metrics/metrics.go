package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling broker.
//
// Naming convention: namespace_subsystem_name
// - namespace: wavecast (application-level grouping)
// - subsystem: websocket, room, invite (feature-level grouping)
// - name: specific metric (connections_active, frames_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members, live invites)
// - Counter: Cumulative events (frames processed, drops, rate limits)
// - Histogram: Latency distributions (dispatch time)

var (
	// ActiveConnections tracks the current number of open WebSocket sessions,
	// bound or not (Gauge - current state)
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wavecast",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of open WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wavecast",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the member count per room (GaugeVec with room_id label).
	// The label is deleted when the room is garbage collected.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wavecast",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// Frames tracks every inbound frame by type and outcome (CounterVec - cumulative).
	// Status is one of: ok, error, ignored, rate_limited.
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wavecast",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total inbound frames processed",
	}, []string{"frame_type", "status"})

	// DispatchDuration tracks handler time per frame type (HistogramVec - latency distribution)
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wavecast",
		Subsystem: "websocket",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching inbound frames",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"frame_type"})

	// DroppedFrames counts outbound frames discarded because a peer's send
	// queue was full (Counter - cumulative)
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wavecast",
		Subsystem: "websocket",
		Name:      "frames_dropped_total",
		Help:      "Outbound frames dropped due to full send queues",
	})

	// RateLimitedFrames counts inbound frames rejected by the per-connection
	// window before decoding (Counter - cumulative)
	RateLimitedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wavecast",
		Subsystem: "websocket",
		Name:      "frames_rate_limited_total",
		Help:      "Inbound frames rejected by the per-connection rate limit",
	})

	// ActiveInvites tracks the number of live invites (Gauge - current state)
	ActiveInvites = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wavecast",
		Subsystem: "invite",
		Name:      "invites_active",
		Help:      "Current number of live invites",
	})

	// InviteOutcomes counts terminal invite events (CounterVec - cumulative).
	// Outcome is one of: accepted, declined, cancelled, expired, disconnected.
	InviteOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wavecast",
		Subsystem: "invite",
		Name:      "outcomes_total",
		Help:      "Terminal invite events by outcome",
	}, []string{"outcome"})
)

// IncConnection records a newly accepted WebSocket connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a closed WebSocket connection.
func DecConnection() {
	ActiveConnections.Dec()
}
