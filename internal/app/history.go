package app

import (
	"context"

	"github.com/velora-app/callkit/internal/call"
	"github.com/velora-app/callkit/internal/store"
)

// historyAdapter bridges finished orchestrator sessions into the call log.
type historyAdapter struct {
	log store.CallLog
}

func (h historyAdapter) RecordEnded(ctx context.Context, s call.Session) error {
	rec := &store.CallRecord{
		CallID:         s.ID.String(),
		Direction:      store.DirectionOutgoing,
		Outcome:        store.OutcomeMissed,
		PeerID:         s.PeerID,
		PeerName:       s.PeerName,
		CallType:       s.CallType,
		ConversationID: s.ConversationID,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		Duration:       s.Duration,
	}
	if s.Direction == call.Incoming {
		rec.Direction = store.DirectionIncoming
	}
	if !s.ConnectedAt.IsZero() {
		t := s.ConnectedAt
		rec.ConnectedAt = &t
		rec.Outcome = store.OutcomeCompleted
	} else if s.Direction == call.Incoming {
		// An incoming call that never connected was declined or rang out;
		// either way the local user did not answer it.
		rec.Outcome = store.OutcomeRejected
	}
	return h.log.RecordEnded(ctx, rec)
}
