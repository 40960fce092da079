package transport

import (
	"sync"

	"github.com/velora-app/callkit/internal/proto"
)

// DefaultDedupCapacity is the number of incoming-call ids remembered before
// the filter wraps.
const DefaultDedupCapacity = 50

// DedupFilter remembers call ids whose call_received notification was already
// acted upon, so a redelivered push (reconnect replay, duplicate emit) is
// dropped. It is consulted only for call_received; accept/reject/end events
// are gated by the registry's phase checks instead.
type DedupFilter struct {
	mu       sync.Mutex
	capacity int
	seen     map[proto.CallID]struct{}
}

// NewDedupFilter builds a filter that wraps after capacity distinct ids.
// Non-positive capacity falls back to DefaultDedupCapacity.
func NewDedupFilter(capacity int) *DedupFilter {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &DedupFilter{
		capacity: capacity,
		seen:     make(map[proto.CallID]struct{}),
	}
}

// ShouldProcess reports whether an incoming call notification for id should
// be handled. The first call for an id records it and returns true; repeats
// return false and leave state unchanged.
//
// Past the capacity the whole set is dropped rather than evicting the oldest
// entry, so a sufficiently old id can be reprocessed after the wrap. That is
// the accepted tradeoff for sessions of unbounded duration.
func (f *DedupFilter) ShouldProcess(id proto.CallID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		return false
	}
	if len(f.seen) >= f.capacity {
		f.seen = make(map[proto.CallID]struct{})
	}
	f.seen[id] = struct{}{}
	return true
}

// Len returns the number of remembered ids.
func (f *DedupFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Reset forgets all remembered ids.
func (f *DedupFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[proto.CallID]struct{})
}
