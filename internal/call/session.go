// Package call holds the client-side call core: the busy-call registry and
// the orchestrator state machine reconciling local actions with server
// events.
package call

import (
	"time"

	"github.com/velora-app/callkit/internal/proto"
)

// Direction distinguishes who initiated the call.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Phase is the lifecycle phase of a call session. At most one session per
// call id is in a non-idle phase at a time; the registry enforces that.
type Phase int

const (
	Idle Phase = iota
	Initiating
	Ringing
	Connected
	Ended
)

func (p Phase) String() string {
	switch p {
	case Initiating:
		return "initiating"
	case Ringing:
		return "ringing"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	default:
		return "idle"
	}
}

// Session is one call attempt as tracked by the orchestrator. It is mutated
// only on the orchestrator's run loop.
type Session struct {
	ID             proto.CallID
	Direction      Direction
	Phase          Phase
	PeerID         int64
	PeerName       string
	PeerAvatarURL  string
	CallType       string // proto.CallTypeAudio or proto.CallTypeVideo
	ConversationID string
	StartedAt      time.Time
	ConnectedAt    time.Time // zero until Connected
	EndedAt        time.Time // zero until Ended
	Duration       time.Duration
}
