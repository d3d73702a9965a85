// Package invite tracks live speaker invites. Every invite carries its own
// cancellable expiry timer; a background sweeper catches any entry whose
// timer was lost so nothing outlives its deadline by more than one sweep.
package invite

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavecast/broker/internal/v1/metrics"
	"github.com/wavecast/broker/internal/v1/types"
)

const (
	// DefaultTTL is how long an invite stays live before expiring.
	DefaultTTL = 20 * time.Second

	// SweepInterval is the fallback scan period for lost timers.
	SweepInterval = 60 * time.Second
)

// ErrPending rejects a second live invite for the same from→to pair.
// Error text is sent to clients verbatim.
var ErrPending = errors.New("Invite already pending for this client")

// Invite is one live invitation. Callers receive copies; the ledger owns
// the stored value and its timer.
type Invite struct {
	ID        string
	RoomID    types.RoomIdType
	From      types.ClientIdType
	To        types.ClientIdType
	Payload   json.RawMessage
	ExpiresAt time.Time

	timer *time.Timer
}

type pairKey struct {
	room types.RoomIdType
	from types.ClientIdType
	to   types.ClientIdType
}

// Ledger is the process-wide invite table.
type Ledger struct {
	mu       sync.Mutex
	invites  map[string]*Invite
	pairs    map[pairKey]string // one live invite per from→to pair
	ttl      time.Duration
	onExpire func(Invite)

	done      chan struct{}
	closeOnce sync.Once
}

// NewLedger creates the ledger and starts its sweeper. Callers own the
// lifecycle and must Close it on shutdown.
func NewLedger(ttl, sweepEvery time.Duration) *Ledger {
	l := &Ledger{
		invites: make(map[string]*Invite),
		pairs:   make(map[pairKey]string),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go l.run(sweepEvery)
	return l
}

// OnExpire registers the callback invoked with each invite that reaches
// its deadline. It runs on timer and sweeper goroutines. Set it once,
// before the first Create.
func (l *Ledger) OnExpire(fn func(Invite)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExpire = fn
}

// Create mints an invite with a fresh id and arms its expiry timer.
func (l *Ledger) Create(roomID types.RoomIdType, from, to types.ClientIdType, payload json.RawMessage) (Invite, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey{room: roomID, from: from, to: to}
	if _, exists := l.pairs[key]; exists {
		return Invite{}, ErrPending
	}

	inv := &Invite{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		From:      from,
		To:        to,
		Payload:   payload,
		ExpiresAt: time.Now().Add(l.ttl),
	}
	inv.timer = time.AfterFunc(l.ttl, func() { l.expire(inv.ID) })

	l.invites[inv.ID] = inv
	l.pairs[key] = inv.ID
	metrics.ActiveInvites.Inc()

	return *inv, nil
}

// ByID returns a copy of the live invite with the given id.
func (l *Ledger) ByID(id string) (Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.invites[id]
	if !ok {
		return Invite{}, false
	}
	return *inv, true
}

// ByPair returns a copy of the live invite for a from→to pair.
func (l *Ledger) ByPair(roomID types.RoomIdType, from, to types.ClientIdType) (Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.pairs[pairKey{room: roomID, from: from, to: to}]
	if !ok {
		return Invite{}, false
	}
	return *l.invites[id], true
}

// Remove deletes an invite and stops its timer. The boolean reports
// whether this call performed the removal; that is the exactly-once guard
// every terminal invite event relies on.
func (l *Ledger) Remove(id string) (Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(id)
}

func (l *Ledger) removeLocked(id string) (Invite, bool) {
	inv, ok := l.invites[id]
	if !ok {
		return Invite{}, false
	}
	inv.timer.Stop()
	delete(l.invites, id)
	delete(l.pairs, pairKey{room: inv.RoomID, from: inv.From, to: inv.To})
	metrics.ActiveInvites.Dec()
	return *inv, true
}

// RemoveFor removes every live invite the client is party to, in either
// direction, and returns the removed entries for notification fan-out.
func (l *Ledger) RemoveFor(roomID types.RoomIdType, clientID types.ClientIdType) []Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Invite
	for id, inv := range l.invites {
		if inv.RoomID != roomID {
			continue
		}
		if inv.From == clientID || inv.To == clientID {
			if out, ok := l.removeLocked(id); ok {
				removed = append(removed, out)
			}
		}
	}
	return removed
}

// Len returns the number of live invites.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.invites)
}

// expire runs on the invite's own timer goroutine. Remove is the
// exactly-once gate: if accept, decline, cancel or disconnect got there
// first, the timer finds nothing and stays silent.
func (l *Ledger) expire(id string) {
	inv, ok := l.Remove(id)
	if !ok {
		return
	}
	if fn := l.callback(); fn != nil {
		fn(inv)
	}
}

// SweepExpired removes invites past their deadline whose timer never
// fired, notifying the expiry callback for each. Returns the number
// removed.
func (l *Ledger) SweepExpired() int {
	now := time.Now()

	l.mu.Lock()
	var expired []Invite
	for id, inv := range l.invites {
		if now.After(inv.ExpiresAt) {
			if out, ok := l.removeLocked(id); ok {
				expired = append(expired, out)
			}
		}
	}
	fn := l.onExpire
	l.mu.Unlock()

	for _, inv := range expired {
		if fn != nil {
			fn(inv)
		}
	}
	return len(expired)
}

func (l *Ledger) callback() func(Invite) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onExpire
}

func (l *Ledger) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.SweepExpired()
		case <-l.done:
			return
		}
	}
}

// Close stops the sweeper and every live timer. Remaining invites are
// dropped without notifications since the process is going down.
func (l *Ledger) Close() {
	l.closeOnce.Do(func() {
		close(l.done)

		l.mu.Lock()
		defer l.mu.Unlock()
		for id := range l.invites {
			l.removeLocked(id)
		}
	})
}
