package proto

import "encoding/json"

// Inbound is the envelope for messages the client sends to the server.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the envelope for messages the server pushes to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

const (
	ProtocolVersion = 1

	// Server-pushed call events.
	EventCallReceived = "call_received"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"

	// Client-emitted call actions.
	EmitCallAccept = "call_accept"
	EmitCallReject = "call_reject"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// Call type values carried in call_received payloads.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Caller describes the remote party of an incoming call.
type Caller struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
	PhotoURL string `json:"photo_url"`
}

// CallReceivedData announces an unsolicited incoming call.
type CallReceivedData struct {
	CallID         CallID        `json:"callId"`
	Caller         Caller        `json:"caller"`
	CallType       string        `json:"callType"`
	ConversationID string        `json:"conversationId,omitempty"`
	JoinInfo       *CallJoinInfo `json:"joinInfo,omitempty"`
}

// CallAcceptedData confirms to the initiator that the call was accepted.
type CallAcceptedData struct {
	CallID   CallID        `json:"callId"`
	JoinInfo *CallJoinInfo `json:"joinInfo,omitempty"`
}

// CallRejectedData notifies the initiator that the call was rejected.
type CallRejectedData struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// CallEndedData notifies both sides that the call has ended.
// Duration is the server-reported call length in seconds.
type CallEndedData struct {
	CallID   CallID `json:"callId"`
	Duration int64  `json:"duration"`
}

// CallAcceptData is emitted when the local user accepts an incoming call.
type CallAcceptData struct {
	CallID CallID `json:"call_id"`
}

// CallRejectData is emitted when the local user rejects an incoming call.
type CallRejectData struct {
	CallID CallID `json:"call_id"`
}

// CallJoinInfo carries media-room join credentials issued by the server.
type CallJoinInfo struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	RoomName string `json:"room_name"`
	Identity string `json:"identity"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
