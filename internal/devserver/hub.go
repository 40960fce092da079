// Package devserver is a self-contained signaling server for local
// development and integration tests. It speaks the same REST and WebSocket
// protocol as the production backend: call setup over POST /v1/calls, call
// events pushed over /ws.
package devserver

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/proto"
)

var (
	// ErrPeerOffline is returned when the callee has no live connection.
	ErrPeerOffline = errors.New("peer is not connected")
	// ErrUnknownCall is returned for actions on a call id the hub doesn't know.
	ErrUnknownCall = errors.New("unknown call")
	// ErrNotParty is returned when a user acts on a call they are not part of.
	ErrNotParty = errors.New("not a party to this call")
)

// sessionSendBuffer bounds the per-connection outbound queue. Slow readers
// lose events rather than stalling the hub.
const sessionSendBuffer = 32

// session is one live WebSocket connection.
type session struct {
	userID   int64
	fullName string
	photoURL string
	send     chan proto.Outbound
	done     chan struct{} // closed when the session is replaced or detached
}

// call is an in-flight call tracked by the hub.
type call struct {
	id         string
	callerID   int64
	receiverID int64
	callType   string
	createdAt  time.Time
	acceptedAt time.Time // zero until accepted
}

// Hub routes call signaling between connected users.
type Hub struct {
	minter *joinTokenMinter
	log    *zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
	calls    map[string]*call
}

// NewHub creates a hub. minter may be nil to skip media join tokens.
func NewHub(minter *joinTokenMinter, logger *zerolog.Logger) *Hub {
	return &Hub{
		minter:   minter,
		log:      logger,
		sessions: make(map[int64]*session),
		calls:    make(map[string]*call),
	}
}

// Attach registers a live connection for userID, replacing any previous one.
// The session's done channel is closed when it is replaced or detached.
func (h *Hub) Attach(userID int64, fullName, photoURL string) *session {
	s := &session{
		userID:   userID,
		fullName: fullName,
		photoURL: photoURL,
		send:     make(chan proto.Outbound, sessionSendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if old, ok := h.sessions[userID]; ok {
		close(old.done)
	}
	h.sessions[userID] = s
	h.mu.Unlock()

	h.log.Debug().Int64("user_id", userID).Msg("session attached")
	return s
}

// Detach removes the session if it is still the current one for its user.
func (h *Hub) Detach(s *session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.userID]; ok && cur == s {
		delete(h.sessions, s.userID)
		close(s.done)
	}
	h.mu.Unlock()

	h.log.Debug().Int64("user_id", s.userID).Msg("session detached")
}

// StartCall creates a call from the caller to receiverID and pushes
// call_received to the receiver. The receiver must be connected; the caller
// does not need a live session to place a call.
func (h *Hub) StartCall(caller proto.Caller, receiverID int64, callType, conversationID string) (string, error) {
	if callType != proto.CallTypeVideo {
		callType = proto.CallTypeAudio
	}

	h.mu.Lock()
	receiver, ok := h.sessions[receiverID]
	if !ok {
		h.mu.Unlock()
		return "", ErrPeerOffline
	}

	c := &call{
		id:         uuid.NewString(),
		callerID:   caller.UserID,
		receiverID: receiverID,
		callType:   callType,
		createdAt:  time.Now(),
	}
	h.calls[c.id] = c
	h.mu.Unlock()

	data := proto.CallReceivedData{
		CallID:         proto.CallID(c.id),
		Caller:         caller,
		CallType:       callType,
		ConversationID: conversationID,
		JoinInfo:       h.joinInfo(c, receiver),
	}
	h.push(receiver, proto.EventCallReceived, data)

	h.log.Info().
		Str("call_id", c.id).
		Int64("caller_id", caller.UserID).
		Int64("receiver_id", receiverID).
		Str("call_type", callType).
		Msg("call started")
	return c.id, nil
}

// Accept marks the call accepted and notifies the caller.
func (h *Hub) Accept(userID int64, callID string) error {
	h.mu.Lock()
	c, ok := h.calls[callID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if c.receiverID != userID {
		h.mu.Unlock()
		return ErrNotParty
	}
	c.acceptedAt = time.Now()
	caller := h.sessions[c.callerID]
	h.mu.Unlock()

	if caller != nil {
		h.push(caller, proto.EventCallAccepted, proto.CallAcceptedData{
			CallID:   proto.CallID(c.id),
			JoinInfo: h.joinInfo(c, caller),
		})
	}
	h.log.Info().Str("call_id", callID).Msg("call accepted")
	return nil
}

// Reject drops the call and notifies the caller.
func (h *Hub) Reject(userID int64, callID string) error {
	h.mu.Lock()
	c, ok := h.calls[callID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if c.receiverID != userID && c.callerID != userID {
		h.mu.Unlock()
		return ErrNotParty
	}
	delete(h.calls, callID)
	caller := h.sessions[c.callerID]
	h.mu.Unlock()

	if caller != nil && c.receiverID == userID {
		h.push(caller, proto.EventCallRejected, proto.CallRejectedData{
			CallID: proto.CallID(c.id),
			Reason: "declined",
		})
	}
	h.log.Info().Str("call_id", callID).Msg("call rejected")
	return nil
}

// End terminates the call and pushes call_ended with the call duration to
// both parties.
func (h *Hub) End(userID int64, callID string) error {
	h.mu.Lock()
	c, ok := h.calls[callID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if c.receiverID != userID && c.callerID != userID {
		h.mu.Unlock()
		return ErrNotParty
	}
	delete(h.calls, callID)
	caller := h.sessions[c.callerID]
	receiver := h.sessions[c.receiverID]
	h.mu.Unlock()

	var duration int64
	if !c.acceptedAt.IsZero() {
		duration = int64(time.Since(c.acceptedAt).Seconds())
	}
	data := proto.CallEndedData{CallID: proto.CallID(c.id), Duration: duration}
	if caller != nil {
		h.push(caller, proto.EventCallEnded, data)
	}
	if receiver != nil {
		h.push(receiver, proto.EventCallEnded, data)
	}

	h.log.Info().Str("call_id", callID).Int64("duration", duration).Msg("call ended")
	return nil
}

func (h *Hub) joinInfo(c *call, s *session) *proto.CallJoinInfo {
	if h.minter == nil {
		return nil
	}
	info, err := h.minter.Mint(c, s.userID, s.fullName)
	if err != nil {
		h.log.Warn().Err(err).Str("call_id", c.id).Msg("mint join token")
		return nil
	}
	return info
}

// push queues an event for delivery, dropping it if the session is slow or
// already closed.
func (h *Hub) push(s *session, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("marshal event")
		return
	}
	out := proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: event,
		Data:  raw,
	}
	select {
	case <-s.done:
	case s.send <- out:
	default:
		h.log.Warn().Int64("user_id", s.userID).Str("event", event).Msg("session send buffer full, dropping event")
	}
}
