package transport

import "github.com/velora-app/callkit/internal/proto"

// EventKind identifies a typed call event delivered by the transport.
type EventKind int

const (
	// EventCallReceived announces an unsolicited incoming call.
	EventCallReceived EventKind = iota
	// EventCallAccepted confirms the remote party accepted the call.
	EventCallAccepted
	// EventCallRejected notifies that the remote party rejected the call.
	EventCallRejected
	// EventCallEnded notifies that the call has ended.
	EventCallEnded
)

func (k EventKind) String() string {
	switch k {
	case EventCallReceived:
		return proto.EventCallReceived
	case EventCallAccepted:
		return proto.EventCallAccepted
	case EventCallRejected:
		return proto.EventCallRejected
	case EventCallEnded:
		return proto.EventCallEnded
	default:
		return "unknown"
	}
}

// Event is a call event after decoding and call-id normalization.
type Event struct {
	Kind   EventKind
	CallID proto.CallID

	// Set for EventCallReceived.
	Caller         proto.Caller
	CallType       string
	ConversationID string

	// Set for EventCallRejected.
	Reason string

	// Set for EventCallEnded: server-reported duration in seconds.
	Duration int64

	// Media join credentials, when the server includes them.
	JoinInfo *proto.CallJoinInfo
}

// Status describes the transport connection lifecycle for telemetry.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
