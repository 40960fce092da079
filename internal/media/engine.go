// Package media abstracts the WebRTC capability the call core hands join
// credentials to. The pipeline itself (codec negotiation, ICE, tracks) lives
// outside this module.
package media

import "context"

// JoinInfo contains what the engine needs to join a call's media room.
type JoinInfo struct {
	URL      string
	Token    string
	RoomName string
	Identity string
}

// Engine is the external media capability.
type Engine interface {
	// Join attaches the local media pipeline to the call's room.
	Join(ctx context.Context, info JoinInfo) error

	// Leave detaches from the current room. Safe to call when not joined.
	Leave(ctx context.Context) error
}

// Nop is an Engine that does nothing, for tests and headless runs.
type Nop struct{}

func (Nop) Join(context.Context, JoinInfo) error { return nil }
func (Nop) Leave(context.Context) error          { return nil }

var _ Engine = Nop{}
