package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/log"
	"github.com/velora-app/callkit/internal/proto"
)

// testSignalServer is a minimal signaling endpoint: it records dials, captures
// client emits, and lets tests push server events.
type testSignalServer struct {
	ts      *httptest.Server
	dials   atomic.Int32
	inbound chan proto.Inbound

	mu    sync.Mutex
	conns []*websocket.Conn
	auths []string
}

func startSignalServer(t *testing.T) *testSignalServer {
	t.Helper()

	s := &testSignalServer{inbound: make(chan proto.Inbound, 16)}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dials.Add(1)
		s.mu.Lock()
		s.auths = append(s.auths, r.Header.Get("Authorization"))
		s.mu.Unlock()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var in proto.Inbound
			if err := wsjson.Read(r.Context(), conn, &in); err != nil {
				return
			}
			s.inbound <- in
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *testSignalServer) wsURL() string {
	return strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
}

func (s *testSignalServer) lastConn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.conns)
		var conn *websocket.Conn
		if n > 0 {
			conn = s.conns[n-1]
		}
		s.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no server-side connection")
	return nil
}

func (s *testSignalServer) push(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event, Data: payload}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, s.lastConn(t), out); err != nil {
		t.Fatalf("push %s: %v", event, err)
	}
}

func newTestClient(s *testSignalServer, token string) *Client {
	return NewClient(Options{
		URL:            s.wsURL(),
		Tokens:         auth.Static(token),
		ReconnectDelay: 20 * time.Millisecond,
	}, log.Nop())
}

func mustEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v event", kind)
		}
	}
}

func TestConnectSuppressedWithoutCredential(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "")
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect should fail silently, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := s.dials.Load(); n != 0 {
		t.Fatalf("expected no dial attempts, got %d", n)
	}
}

func TestConnectSuppressedByGate(t *testing.T) {
	s := startSignalServer(t)
	c := NewClient(Options{
		URL:    s.wsURL(),
		Tokens: auth.Static("tok"),
		Gate:   func() bool { return false },
	}, log.Nop())
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("gated connect should be a no-op, got %v", err)
	}
	if n := s.dials.Load(); n != 0 {
		t.Fatalf("expected no dial attempts, got %d", n)
	}
}

func TestConnectIdempotentAndAuthenticated(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "tok-1")
	defer c.Close()

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("client should be connected")
	}
	if n := s.dials.Load(); n != 1 {
		t.Fatalf("expected exactly one dial, got %d", n)
	}

	s.mu.Lock()
	got := s.auths[0]
	s.mu.Unlock()
	if got != "Bearer tok-1" {
		t.Fatalf("unexpected auth header %q", got)
	}
}

func TestDuplicateCallReceivedDropped(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "tok")
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	payload := proto.CallReceivedData{
		CallID:   "77",
		Caller:   proto.Caller{UserID: 5, FullName: "Mara"},
		CallType: proto.CallTypeAudio,
	}
	s.push(t, proto.EventCallReceived, payload)
	s.push(t, proto.EventCallReceived, payload) // simulated redelivery

	ev := mustEvent(t, c.Events(), EventCallReceived)
	if ev.CallID != "77" || ev.Caller.UserID != 5 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// The duplicate must not surface; a subsequent distinct event arrives
	// next on the channel.
	s.push(t, proto.EventCallEnded, proto.CallEndedData{CallID: "77", Duration: 12})
	next := <-c.Events()
	if next.Kind != EventCallEnded || next.Duration != 12 {
		t.Fatalf("expected call_ended after dropped duplicate, got %+v", next)
	}
}

func TestEmitAcceptReachesServer(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "tok")
	defer c.Close()

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := c.EmitAccept(ctx, "900"); err != nil {
		t.Fatalf("emit accept: %v", err)
	}

	select {
	case in := <-s.inbound:
		if in.Type != proto.EmitCallAccept {
			t.Fatalf("unexpected inbound type %q", in.Type)
		}
		var data proto.CallAcceptData
		if err := json.Unmarshal(in.Data, &data); err != nil || data.CallID != "900" {
			t.Fatalf("unexpected accept payload (err=%v): %+v", err, data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive call_accept")
	}
}

func TestEmitWithoutConnection(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "tok")
	defer c.Close()

	if err := c.EmitReject(context.Background(), "1"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReconnectAfterServerClosure(t *testing.T) {
	s := startSignalServer(t)
	c := newTestClient(s, "tok")
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Server-initiated closure: the client schedules one fixed-delay retry.
	_ = s.lastConn(t).Close(websocket.StatusGoingAway, "restarting")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.dials.Load() >= 2 && c.Connected() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client did not reconnect (dials=%d)", s.dials.Load())
}
