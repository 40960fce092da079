package call

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/media"
	"github.com/velora-app/callkit/internal/proto"
	"github.com/velora-app/callkit/internal/transport"
)

// Default timings for the orchestrator.
const (
	// DefaultRingTimeout bounds how long a call may sit in
	// Initiating/Ringing before it is torn down locally.
	DefaultRingTimeout = 45 * time.Second
	// DefaultCloseDelay is the pause before the UI close intent fires, so an
	// "ended" indicator can be shown.
	DefaultCloseDelay = 2 * time.Second
)

// StartRequest carries a local "start call" action.
type StartRequest struct {
	PeerID         int64
	PeerName       string
	PeerAvatarURL  string
	CallType       string
	ConversationID string
}

// Deps are the orchestrator's collaborators. Engine and History are optional.
type Deps struct {
	API       API
	Signaler  Signaler
	Presenter Presenter
	Registry  *Registry
	Tokens    auth.TokenSource
	Engine    media.Engine
	History   History
	Log       *zerolog.Logger
}

// Options tune the orchestrator. Zero values mean defaults; a negative
// RingTimeout disables the ringing timeout entirely.
type Options struct {
	// SelfID is the authenticated local user.
	SelfID      int64
	RingTimeout time.Duration
	CloseDelay  time.Duration
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStartResolved
	cmdAccept
	cmdReject
	cmdEnd
	cmdEvent
	cmdRingExpired
	cmdCloseScreen
	cmdSnapshot
)

type startResult struct {
	id  proto.CallID
	err error
}

type snapshot struct {
	session Session
	ok      bool
}

type command struct {
	kind       cmdKind
	start      StartRequest
	ev         transport.Event
	res        startResult
	id         proto.CallID
	replyStart chan startResult
	replyErr   chan error
	replySnap  chan snapshot
}

// Orchestrator is the per-call state machine turning local actions and
// remote events into one coherent session lifecycle. All state transitions
// run on a single loop (Run); local actions and transport events are posted
// onto it as commands, so mutations never race even though REST calls
// resolve asynchronously in between.
type Orchestrator struct {
	api       API
	signaler  Signaler
	presenter Presenter
	registry  *Registry
	tokens    auth.TokenSource
	engine    media.Engine
	history   History
	log       *zerolog.Logger

	selfID      int64
	ringTimeout time.Duration
	closeDelay  time.Duration

	cmds    chan command
	running atomic.Bool

	// Loop-owned state. Never touched outside Run.
	cur          *Session
	join         *proto.CallJoinInfo
	ringTimer    *time.Timer
	closeTimer   *time.Timer
	pendingClose proto.CallID
}

// New builds an orchestrator. deps.API, deps.Signaler, deps.Presenter and
// deps.Tokens are required.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Registry == nil {
		deps.Registry = NewRegistry(0)
	}
	if deps.Engine == nil {
		deps.Engine = media.Nop{}
	}
	if deps.Log == nil {
		nop := zerolog.Nop()
		deps.Log = &nop
	}
	if opts.RingTimeout == 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = DefaultCloseDelay
	}

	return &Orchestrator{
		api:         deps.API,
		signaler:    deps.Signaler,
		presenter:   deps.Presenter,
		registry:    deps.Registry,
		tokens:      deps.Tokens,
		engine:      deps.Engine,
		history:     deps.History,
		log:         deps.Log,
		selfID:      opts.SelfID,
		ringTimeout: opts.RingTimeout,
		closeDelay:  opts.CloseDelay,
		cmds:        make(chan command, 32),
	}
}

// Registry exposes the busy-call registry for synchronous IsActive reads.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Run executes the state machine until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.running.Store(true)
	defer o.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			o.stopTimers()
			return
		case cmd := <-o.cmds:
			o.handle(ctx, cmd)
		}
	}
}

// Consume feeds transport events into the state machine until the channel
// closes or ctx is done.
func (o *Orchestrator) Consume(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.HandleEvent(ctx, ev)
		}
	}
}

// StartCall drives the outgoing flow: precondition checks, the REST start
// call, the post-resolve duplicate re-check, registration, and the UI intent.
// It returns the server-assigned call id.
func (o *Orchestrator) StartCall(ctx context.Context, req StartRequest) (proto.CallID, error) {
	reply := make(chan startResult, 1)
	if err := o.post(ctx, command{kind: cmdStart, start: req, replyStart: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Accept answers the current incoming call.
func (o *Orchestrator) Accept(ctx context.Context) error {
	return o.action(ctx, cmdAccept)
}

// Reject declines the current call. For an incoming call this emits
// call_reject over the transport; for an outgoing call still ringing it is
// equivalent to ending the call via REST.
func (o *Orchestrator) Reject(ctx context.Context) error {
	return o.action(ctx, cmdReject)
}

// End hangs up the current call.
func (o *Orchestrator) End(ctx context.Context) error {
	return o.action(ctx, cmdEnd)
}

// HandleEvent posts a transport event onto the run loop.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev transport.Event) {
	_ = o.post(ctx, command{kind: cmdEvent, ev: ev})
}

// Current returns a snapshot of the tracked session, if any.
func (o *Orchestrator) Current(ctx context.Context) (Session, bool) {
	reply := make(chan snapshot, 1)
	if err := o.post(ctx, command{kind: cmdSnapshot, replySnap: reply}); err != nil {
		return Session{}, false
	}
	select {
	case s := <-reply:
		return s.session, s.ok
	case <-ctx.Done():
		return Session{}, false
	}
}

func (o *Orchestrator) action(ctx context.Context, kind cmdKind) error {
	reply := make(chan error, 1)
	if err := o.post(ctx, command{kind: kind, replyErr: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) post(ctx context.Context, cmd command) error {
	if !o.running.Load() {
		return ErrStopped
	}
	select {
	case o.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		o.handleStart(ctx, cmd)
	case cmdStartResolved:
		o.handleStartResolved(ctx, cmd)
	case cmdAccept:
		cmd.replyErr <- o.handleAccept(ctx)
	case cmdReject:
		cmd.replyErr <- o.handleReject(ctx)
	case cmdEnd:
		cmd.replyErr <- o.handleEnd(ctx)
	case cmdEvent:
		o.handleTransportEvent(ctx, cmd.ev)
	case cmdRingExpired:
		o.handleRingExpired(ctx, cmd.id)
	case cmdCloseScreen:
		if o.pendingClose == cmd.id {
			o.pendingClose = ""
			o.closeTimer = nil
		}
		o.presenter.CloseCallScreen(cmd.id)
	case cmdSnapshot:
		if o.cur != nil {
			cmd.replySnap <- snapshot{session: *o.cur, ok: true}
		} else {
			cmd.replySnap <- snapshot{}
		}
	}
}

func (o *Orchestrator) handleStart(ctx context.Context, cmd command) {
	// Precondition errors: reported immediately, nothing mutated.
	switch {
	case o.selfID == 0:
		cmd.replyStart <- startResult{err: ErrMissingUser}
		return
	case cmd.start.PeerID == 0:
		cmd.replyStart <- startResult{err: ErrMissingTarget}
		return
	case o.tokens.Token() == "":
		cmd.replyStart <- startResult{err: ErrMissingCredential}
		return
	case o.cur != nil:
		cmd.replyStart <- startResult{err: ErrCallInProgress}
		return
	}

	req := cmd.start
	callType := req.CallType
	if callType == "" {
		callType = proto.CallTypeVideo
	}
	o.cur = &Session{
		Direction:      Outgoing,
		Phase:          Initiating,
		PeerID:         req.PeerID,
		PeerName:       req.PeerName,
		PeerAvatarURL:  req.PeerAvatarURL,
		CallType:       callType,
		ConversationID: req.ConversationID,
		StartedAt:      time.Now(),
	}
	o.log.Info().Int64("peer_id", req.PeerID).Str("call_type", callType).Msg("starting call")

	// The REST call suspends; its resolution re-enters the loop, so events
	// for other calls interleave freely while it is in flight.
	go func() {
		id, err := o.api.StartCall(ctx, req.PeerID)
		_ = o.post(ctx, command{kind: cmdStartResolved, res: startResult{id: id, err: err}, replyStart: cmd.replyStart})
	}()
}

func (o *Orchestrator) handleStartResolved(ctx context.Context, cmd command) {
	res := cmd.res

	if o.cur == nil || o.cur.Phase != Initiating {
		// The attempt was abandoned (rejected locally, or torn down) while
		// the REST call was in flight. The server-side call, if created, is
		// ended best effort.
		if res.err == nil && res.id != "" {
			go func() {
				if err := o.api.EndCall(ctx, res.id); err != nil {
					o.log.Warn().Err(err).Str("call_id", res.id.String()).Msg("end abandoned call")
				}
			}()
		}
		cmd.replyStart <- startResult{err: ErrNoCall}
		return
	}

	if res.err != nil {
		// Roll back to idle and surface the error.
		o.log.Warn().Err(res.err).Msg("start call failed")
		o.cur = nil
		cmd.replyStart <- startResult{err: res.err}
		return
	}

	// Between issuing the REST call and its resolution we own nothing: the
	// same server-assigned id may have been claimed by a concurrent attempt.
	if o.registry.IsActive(res.id) {
		o.log.Warn().Str("call_id", res.id.String()).Msg("start call resolved to an already-active id, aborting")
		o.cur = nil
		cmd.replyStart <- startResult{err: ErrDuplicateCall}
		return
	}

	o.registry.RegisterActive(res.id)
	o.cur.ID = res.id
	o.cur.Phase = Ringing
	o.cancelPendingClose(res.id)
	o.startRingTimer(ctx, res.id)
	o.presenter.NavigateToCallScreen(*o.cur)
	o.log.Info().Str("call_id", res.id.String()).Msg("call ringing")

	cmd.replyStart <- startResult{id: res.id}
}

func (o *Orchestrator) handleAccept(ctx context.Context) error {
	if o.cur == nil || o.cur.Direction != Incoming || o.cur.Phase != Ringing {
		return ErrNoCall
	}

	if err := o.signaler.EmitAccept(ctx, o.cur.ID); err != nil {
		// Still ringing; the user may retry.
		return err
	}

	o.stopRingTimer()
	o.cur.Phase = Connected
	o.cur.ConnectedAt = time.Now()
	o.joinMedia(ctx)
	o.log.Info().Str("call_id", o.cur.ID.String()).Msg("call accepted locally")
	return nil
}

func (o *Orchestrator) handleReject(ctx context.Context) error {
	if o.cur == nil {
		return ErrNoCall
	}

	s := o.cur
	switch {
	case s.Direction == Incoming:
		// Declining an incoming call is an emit, not a REST end.
		if err := o.signaler.EmitReject(ctx, s.ID); err != nil {
			o.log.Warn().Err(err).Str("call_id", s.ID.String()).Msg("emit call_reject failed")
		}
		o.terminate(ctx, "rejected", 0)
	case s.ID == "":
		// Outgoing attempt still waiting on the REST start; drop the
		// session and let the resolution handler clean up server-side.
		o.log.Info().Msg("outgoing call cancelled before setup finished")
		o.cur = nil
	default:
		// Rejecting an outgoing call that is ringing ends it via REST.
		o.endRemote(ctx, s.ID)
		o.terminate(ctx, "cancelled", 0)
	}
	return nil
}

func (o *Orchestrator) handleEnd(ctx context.Context) error {
	if o.cur == nil {
		return ErrNoCall
	}

	s := o.cur
	if s.ID != "" {
		o.endRemote(ctx, s.ID)
	}
	o.terminate(ctx, "ended", 0)
	return nil
}

func (o *Orchestrator) handleTransportEvent(ctx context.Context, ev transport.Event) {
	if ev.Kind == transport.EventCallReceived {
		o.handleCallReceived(ctx, ev)
		return
	}

	// Everything below correlates to the tracked call; anything else is a
	// stale event from a previous call.
	if o.cur == nil || o.cur.ID != ev.CallID {
		o.log.Debug().Str("event", ev.Kind.String()).Str("call_id", ev.CallID.String()).Msg("stale call event ignored")
		return
	}

	switch ev.Kind {
	case transport.EventCallAccepted:
		if o.cur.Phase != Ringing {
			return
		}
		o.stopRingTimer()
		o.cur.Phase = Connected
		o.cur.ConnectedAt = time.Now()
		if ev.JoinInfo != nil {
			o.join = ev.JoinInfo
		}
		o.joinMedia(ctx)
		o.log.Info().Str("call_id", ev.CallID.String()).Msg("call accepted by peer")
	case transport.EventCallRejected:
		o.log.Info().Str("call_id", ev.CallID.String()).Str("reason", ev.Reason).Msg("call rejected by peer")
		o.terminate(ctx, "rejected", 0)
	case transport.EventCallEnded:
		o.log.Info().Str("call_id", ev.CallID.String()).Int64("duration", ev.Duration).Msg("call ended by server")
		o.terminate(ctx, "ended", ev.Duration)
	}
}

func (o *Orchestrator) handleCallReceived(ctx context.Context, ev transport.Event) {
	// The registry check is what blocks re-entry for an id that just ended
	// (grace window) and duplicate announcements that slipped past dedup.
	if o.registry.IsActive(ev.CallID) {
		o.log.Debug().Str("call_id", ev.CallID.String()).Msg("incoming call for busy id dropped")
		return
	}
	if o.cur != nil {
		// A different call owns the UI; the new one is dropped, not queued.
		o.log.Info().Str("call_id", ev.CallID.String()).Msg("incoming call dropped: session in progress")
		return
	}

	o.registry.RegisterActive(ev.CallID)
	o.cancelPendingClose(ev.CallID)
	o.cur = &Session{
		ID:             ev.CallID,
		Direction:      Incoming,
		Phase:          Ringing,
		PeerID:         ev.Caller.UserID,
		PeerName:       ev.Caller.FullName,
		PeerAvatarURL:  ev.Caller.PhotoURL,
		CallType:       ev.CallType,
		ConversationID: ev.ConversationID,
		StartedAt:      time.Now(),
	}
	o.join = ev.JoinInfo
	o.startRingTimer(ctx, ev.CallID)
	o.presenter.NavigateToCallScreen(*o.cur)
	o.log.Info().Str("call_id", ev.CallID.String()).Int64("caller", ev.Caller.UserID).Msg("incoming call")
}

func (o *Orchestrator) handleRingExpired(ctx context.Context, id proto.CallID) {
	if o.cur == nil || o.cur.ID != id {
		return
	}
	if o.cur.Phase != Ringing && o.cur.Phase != Initiating {
		return
	}

	o.log.Info().Str("call_id", id.String()).Dur("timeout", o.ringTimeout).Msg("ringing timed out")
	if o.cur.Direction == Incoming {
		if err := o.signaler.EmitReject(ctx, id); err != nil {
			o.log.Warn().Err(err).Str("call_id", id.String()).Msg("emit call_reject failed")
		}
	} else {
		o.endRemote(ctx, id)
	}
	o.terminate(ctx, "timeout", 0)
}

// endRemote fires the REST end call in the background. Its failure is logged,
// never retried, and never blocks local cleanup: the user-visible call must
// end even if the server acknowledgment fails.
func (o *Orchestrator) endRemote(ctx context.Context, id proto.CallID) {
	go func() {
		if err := o.api.EndCall(ctx, id); err != nil {
			o.log.Warn().Err(err).Str("call_id", id.String()).Msg("end call request failed, cleaning up locally anyway")
		}
	}()
}

// terminate finishes the tracked session: phase Ended, registry unregister
// (exactly once per lifecycle), history record, media leave, and the delayed
// UI close intent.
func (o *Orchestrator) terminate(ctx context.Context, reason string, remoteDuration int64) {
	s := o.cur
	if s == nil {
		return
	}
	o.stopRingTimer()

	now := time.Now()
	s.Phase = Ended
	s.EndedAt = now
	switch {
	case remoteDuration > 0:
		s.Duration = time.Duration(remoteDuration) * time.Second
	case !s.ConnectedAt.IsZero():
		s.Duration = now.Sub(s.ConnectedAt)
	}

	if s.ID != "" {
		o.registry.UnregisterActive(s.ID)
		if o.history != nil {
			rec := *s
			go func() {
				if err := o.history.RecordEnded(ctx, rec); err != nil {
					o.log.Warn().Err(err).Str("call_id", rec.ID.String()).Msg("record call history")
				}
			}()
		}
		o.scheduleClose(s.ID)
	}

	go func() {
		if err := o.engine.Leave(ctx); err != nil {
			o.log.Warn().Err(err).Msg("media leave")
		}
	}()

	o.log.Info().
		Str("call_id", s.ID.String()).
		Str("reason", reason).
		Dur("duration", s.Duration).
		Msg("call ended")

	o.cur = nil
	o.join = nil
}

func (o *Orchestrator) joinMedia(ctx context.Context) {
	if o.join == nil {
		return
	}
	info := media.JoinInfo{
		URL:      o.join.URL,
		Token:    o.join.Token,
		RoomName: o.join.RoomName,
		Identity: o.join.Identity,
	}
	go func() {
		if err := o.engine.Join(ctx, info); err != nil {
			o.log.Warn().Err(err).Msg("media join")
		}
	}()
}

func (o *Orchestrator) startRingTimer(ctx context.Context, id proto.CallID) {
	o.stopRingTimer()
	if o.ringTimeout < 0 {
		return
	}
	o.ringTimer = time.AfterFunc(o.ringTimeout, func() {
		select {
		case o.cmds <- command{kind: cmdRingExpired, id: id}:
		case <-ctx.Done():
		}
	})
}

func (o *Orchestrator) stopRingTimer() {
	if o.ringTimer != nil {
		o.ringTimer.Stop()
		o.ringTimer = nil
	}
}

func (o *Orchestrator) scheduleClose(id proto.CallID) {
	if o.closeTimer != nil {
		o.closeTimer.Stop()
	}
	o.pendingClose = id
	o.closeTimer = time.AfterFunc(o.closeDelay, func() {
		select {
		case o.cmds <- command{kind: cmdCloseScreen, id: id}:
		default:
			// Loop gone or saturated; the screen close is lost, which only
			// happens on shutdown.
		}
	})
}

// cancelPendingClose stops a stale close timer when the same id starts a new
// life before the old intent fired, so the fresh screen is not dismissed.
func (o *Orchestrator) cancelPendingClose(id proto.CallID) {
	if o.pendingClose == id && o.closeTimer != nil {
		o.closeTimer.Stop()
		o.closeTimer = nil
		o.pendingClose = ""
	}
}

func (o *Orchestrator) stopTimers() {
	o.stopRingTimer()
	if o.closeTimer != nil {
		o.closeTimer.Stop()
		o.closeTimer = nil
	}
}
