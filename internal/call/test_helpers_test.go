package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/proto"
	"github.com/velora-app/callkit/internal/transport"
)

type fakeAPI struct {
	mu       sync.Mutex
	startID  proto.CallID
	startErr error
	endErr   error
	started  []int64
	ended    []proto.CallID
	endedCh  chan proto.CallID
}

func newFakeAPI(startID proto.CallID) *fakeAPI {
	return &fakeAPI{startID: startID, endedCh: make(chan proto.CallID, 8)}
}

func (f *fakeAPI) StartCall(_ context.Context, receiverID int64) (proto.CallID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, receiverID)
	return f.startID, f.startErr
}

func (f *fakeAPI) EndCall(_ context.Context, callID proto.CallID) error {
	f.mu.Lock()
	f.ended = append(f.ended, callID)
	f.mu.Unlock()
	f.endedCh <- callID
	return f.endErr
}

type fakeSignaler struct {
	mu      sync.Mutex
	emitErr error
	accepts []proto.CallID
	rejects []proto.CallID
	emitted chan string
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{emitted: make(chan string, 8)}
}

func (f *fakeSignaler) EmitAccept(_ context.Context, callID proto.CallID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.accepts = append(f.accepts, callID)
	f.emitted <- proto.EmitCallAccept
	return nil
}

func (f *fakeSignaler) EmitReject(_ context.Context, callID proto.CallID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.rejects = append(f.rejects, callID)
	f.emitted <- proto.EmitCallReject
	return nil
}

type fakePresenter struct {
	navigated chan Session
	closed    chan proto.CallID
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		navigated: make(chan Session, 8),
		closed:    make(chan proto.CallID, 8),
	}
}

func (f *fakePresenter) NavigateToCallScreen(s Session)  { f.navigated <- s }
func (f *fakePresenter) CloseCallScreen(id proto.CallID) { f.closed <- id }

type fakeHistory struct {
	recorded chan Session
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{recorded: make(chan Session, 8)}
}

func (f *fakeHistory) RecordEnded(_ context.Context, s Session) error {
	f.recorded <- s
	return nil
}

type fixture struct {
	orch      *Orchestrator
	api       *fakeAPI
	signaler  *fakeSignaler
	presenter *fakePresenter
	history   *fakeHistory
	registry  *Registry
}

// newFixture wires an orchestrator with fast timings: 60ms grace window,
// 20ms close delay, ringing timeout disabled unless a test overrides it.
func newFixture(t *testing.T, tune func(*Deps, *Options)) *fixture {
	t.Helper()

	f := &fixture{
		api:       newFakeAPI("900"),
		signaler:  newFakeSignaler(),
		presenter: newFakePresenter(),
		history:   newFakeHistory(),
		registry:  NewRegistry(60 * time.Millisecond),
	}

	deps := Deps{
		API:       f.api,
		Signaler:  f.signaler,
		Presenter: f.presenter,
		Registry:  f.registry,
		Tokens:    auth.Static("tok"),
		History:   f.history,
	}
	opts := Options{
		SelfID:      7,
		RingTimeout: -1,
		CloseDelay:  20 * time.Millisecond,
	}
	if tune != nil {
		tune(&deps, &opts)
	}

	f.orch = New(deps, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.orch.Run(ctx)

	// Wait for the run loop to come up before posting commands.
	deadline := time.Now().Add(time.Second)
	for !f.orch.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("orchestrator loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return f
}

func incomingCall(id proto.CallID) transport.Event {
	return transport.Event{
		Kind:     transport.EventCallReceived,
		CallID:   id,
		Caller:   proto.Caller{UserID: 5, FullName: "Mara", PhotoURL: "https://cdn/p.jpg"},
		CallType: proto.CallTypeAudio,
	}
}

func mustRecv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func mustNoRecv[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %+v", what, v)
	case <-time.After(80 * time.Millisecond):
	}
}
