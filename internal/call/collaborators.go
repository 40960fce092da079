package call

import (
	"context"

	"github.com/velora-app/callkit/internal/proto"
)

// API is the REST collaborator that sets up and tears down calls server-side.
// These interfaces let the orchestrator drive its collaborators without
// depending on their implementations.
type API interface {
	// StartCall asks the backend to create a call to receiverID and returns
	// the server-assigned call id.
	StartCall(ctx context.Context, receiverID int64) (proto.CallID, error)

	// EndCall asks the backend to terminate the call. Callers proceed with
	// local cleanup regardless of the result.
	EndCall(ctx context.Context, callID proto.CallID) error
}

// Signaler emits local accept/reject decisions back over the transport.
type Signaler interface {
	EmitAccept(ctx context.Context, callID proto.CallID) error
	EmitReject(ctx context.Context, callID proto.CallID) error
}

// Presenter consumes navigation intents. Calls are fire-and-forget; the
// presentation layer owns what happens on screen.
type Presenter interface {
	// NavigateToCallScreen asks the UI to show the call screen for s.
	NavigateToCallScreen(s Session)

	// CloseCallScreen asks the UI to dismiss any call presentation for id.
	CloseCallScreen(id proto.CallID)
}

// History records calls that reached Ended, for the local call log.
type History interface {
	RecordEnded(ctx context.Context, s Session) error
}
