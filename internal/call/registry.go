package call

import (
	"sync"
	"time"

	"github.com/velora-app/callkit/internal/proto"
)

// DefaultGraceWindow is how long an ended call id is still treated as busy,
// absorbing duplicate or late termination events.
const DefaultGraceWindow = 10 * time.Second

// Registry is the authoritative local record of which call ids are busy:
// either actively in a session or ended within the trailing grace window.
// It is owned by the orchestrator, written only from its run loop, and safe
// for synchronous reads from any collaborator. State is in-memory only; it
// guards against double handling within one running session, nothing more.
type Registry struct {
	mu     sync.Mutex
	grace  time.Duration
	active map[proto.CallID]time.Time
	ended  map[proto.CallID]time.Time
	timers map[proto.CallID]*time.Timer
}

// NewRegistry builds a registry. Non-positive grace falls back to
// DefaultGraceWindow.
func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Registry{
		grace:  grace,
		active: make(map[proto.CallID]time.Time),
		ended:  make(map[proto.CallID]time.Time),
		timers: make(map[proto.CallID]*time.Timer),
	}
}

// IsActive reports whether id is busy: present in the active set, or ended
// less than the grace window ago. The grace part is what keeps a call that
// was just hung up from re-triggering an incoming-call screen off a late
// duplicate event.
func (r *Registry) IsActive(id proto.CallID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[id]; ok {
		return true
	}
	if endedAt, ok := r.ended[id]; ok && time.Since(endedAt) < r.grace {
		return true
	}
	return false
}

// RegisterActive marks id as busy. Must happen before any UI transition that
// claims the call, closing the race between two near-simultaneous accepts of
// the same id. Re-registering an id cancels a pending grace eviction left
// over from its previous life.
func (r *Registry) RegisterActive(id proto.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[id] = time.Now()
	delete(r.ended, id)
	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

// UnregisterActive moves id from the active set into the recently-ended set
// and schedules its eviction after the grace window.
func (r *Registry) UnregisterActive(id proto.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)
	r.ended[id] = time.Now()
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.timers[id] = time.AfterFunc(r.grace, func() { r.evict(id) })
}

func (r *Registry) evict(id proto.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The id may have been re-registered while the timer was in flight.
	if endedAt, ok := r.ended[id]; ok && time.Since(endedAt) >= r.grace {
		delete(r.ended, id)
	}
	delete(r.timers, id)
}

// Reset clears both sets and stops pending timers. Diagnostic/testing only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.timers {
		t.Stop()
	}
	r.active = make(map[proto.CallID]time.Time)
	r.ended = make(map[proto.CallID]time.Time)
	r.timers = make(map[proto.CallID]*time.Timer)
}

// ActiveCount returns the number of ids in the active set.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
