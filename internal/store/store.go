package store

import (
	"context"
	"time"
)

// Direction says which side placed the call.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Outcome describes how a finished call ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // connected, then hung up
	OutcomeRejected  Outcome = "rejected"  // declined before connecting
	OutcomeMissed    Outcome = "missed"    // rang out or ended before answer
)

// CallRecord is one finished call as kept in the local history log.
type CallRecord struct {
	ID             int64
	CallID         string
	Direction      Direction
	Outcome        Outcome
	PeerID         int64
	PeerName       string
	CallType       string
	ConversationID string
	StartedAt      time.Time
	ConnectedAt    *time.Time // nil when the call never connected
	EndedAt        time.Time
	Duration       time.Duration
}

// CallLog persists finished calls.
type CallLog interface {
	// RecordEnded appends a finished call to the log.
	RecordEnded(ctx context.Context, rec *CallRecord) error

	// ListRecent returns the most recent records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*CallRecord, error)

	// Close closes the underlying database connection.
	Close() error
}
