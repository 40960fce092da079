package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/velora-app/callkit/internal/config"
	"github.com/velora-app/callkit/internal/log"
	"github.com/velora-app/callkit/internal/proto"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.Nop()
	cfg := config.Default()
	cfg.DevJWTSecret = "test-secret"
	// no LiveKit credentials: join info stays nil
	cfg.LiveKitURL = ""

	srv := New(cfg, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// registerUser creates a user over REST and returns the token and user id.
func registerUser(t *testing.T, ts *httptest.Server, username, fullName string) (string, int64) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": "secret1",
		"fullName": fullName,
	})
	resp, err := ts.Client().Post(ts.URL+"/v1/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: unexpected status %d", username, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out.Token, out.User.ID
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Outbound {
	t.Helper()

	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

func postJSON(t *testing.T, ts *httptest.Server, path, token string, body any) *http.Response {
	t.Helper()

	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestCallsRequireAuth(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/v1/calls", "application/json", strings.NewReader(`{"receiverId":1}`))
	if err != nil {
		t.Fatalf("post calls: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStartCallPeerOffline(t *testing.T) {
	ts := startTestServer(t)
	token, _ := registerUser(t, ts, "alice", "Alice")

	resp := postJSON(t, ts, "/v1/calls", token, map[string]any{"receiverId": 999})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for offline peer, got %d", resp.StatusCode)
	}
}

func TestCallAcceptAndEndRoundTrip(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, aliceID := registerUser(t, ts, "alice", "Alice")
	bobToken, bobID := registerUser(t, ts, "bob", "Bob")

	aliceConn := dialWS(t, ctx, ts, aliceToken)
	bobConn := dialWS(t, ctx, ts, bobToken)

	// Alice calls Bob over REST.
	resp := postJSON(t, ts, "/v1/calls", aliceToken, map[string]any{
		"receiverId": bobID,
		"callType":   "video",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start call: unexpected status %d", resp.StatusCode)
	}
	var started struct {
		CallID string `json:"call_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	if started.CallID == "" {
		t.Fatal("empty call_id")
	}

	// Bob gets call_received with Alice's identity.
	out := readEvent(t, ctx, bobConn)
	if out.Event != proto.EventCallReceived {
		t.Fatalf("expected call_received, got %s", out.Event)
	}
	var received proto.CallReceivedData
	if err := json.Unmarshal(out.Data, &received); err != nil {
		t.Fatalf("unmarshal call_received: %v", err)
	}
	if received.CallID.String() != started.CallID {
		t.Errorf("call id mismatch: got %s, want %s", received.CallID, started.CallID)
	}
	if received.Caller.UserID != aliceID || received.Caller.FullName != "Alice" {
		t.Errorf("unexpected caller: %+v", received.Caller)
	}
	if received.CallType != proto.CallTypeVideo {
		t.Errorf("expected video call, got %s", received.CallType)
	}

	// Bob accepts over the socket; Alice gets call_accepted.
	acceptData, _ := json.Marshal(proto.CallAcceptData{CallID: received.CallID})
	if err := wsjson.Write(ctx, bobConn, proto.Inbound{Type: proto.EmitCallAccept, Data: acceptData}); err != nil {
		t.Fatalf("write call_accept: %v", err)
	}

	out = readEvent(t, ctx, aliceConn)
	if out.Event != proto.EventCallAccepted {
		t.Fatalf("expected call_accepted, got %s", out.Event)
	}
	var accepted proto.CallAcceptedData
	if err := json.Unmarshal(out.Data, &accepted); err != nil {
		t.Fatalf("unmarshal call_accepted: %v", err)
	}
	if accepted.CallID.String() != started.CallID {
		t.Errorf("accepted call id mismatch: got %s", accepted.CallID)
	}

	// Alice hangs up over REST; both sides get call_ended.
	resp = postJSON(t, ts, "/v1/calls/"+started.CallID+"/end", aliceToken, map[string]any{})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("end call: unexpected status %d", resp.StatusCode)
	}

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		out = readEvent(t, ctx, conn)
		if out.Event != proto.EventCallEnded {
			t.Fatalf("expected call_ended, got %s", out.Event)
		}
	}
}

func TestCallRejectNotifiesCaller(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceToken, _ := registerUser(t, ts, "alice", "Alice")
	bobToken, bobID := registerUser(t, ts, "bob", "Bob")

	aliceConn := dialWS(t, ctx, ts, aliceToken)
	bobConn := dialWS(t, ctx, ts, bobToken)

	resp := postJSON(t, ts, "/v1/calls", aliceToken, map[string]any{"receiverId": bobID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start call: unexpected status %d", resp.StatusCode)
	}
	var started struct {
		CallID string `json:"call_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}

	out := readEvent(t, ctx, bobConn)
	if out.Event != proto.EventCallReceived {
		t.Fatalf("expected call_received, got %s", out.Event)
	}

	rejectData, _ := json.Marshal(proto.CallRejectData{CallID: proto.CallID(started.CallID)})
	if err := wsjson.Write(ctx, bobConn, proto.Inbound{Type: proto.EmitCallReject, Data: rejectData}); err != nil {
		t.Fatalf("write call_reject: %v", err)
	}

	out = readEvent(t, ctx, aliceConn)
	if out.Event != proto.EventCallRejected {
		t.Fatalf("expected call_rejected, got %s", out.Event)
	}
	var rejected proto.CallRejectedData
	if err := json.Unmarshal(out.Data, &rejected); err != nil {
		t.Fatalf("unmarshal call_rejected: %v", err)
	}
	if rejected.CallID.String() != started.CallID {
		t.Errorf("rejected call id mismatch: got %s", rejected.CallID)
	}

	// The call is gone: ending it now is a 404.
	resp = postJSON(t, ts, "/v1/calls/"+started.CallID+"/end", aliceToken, map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after reject, got %d", resp.StatusCode)
	}
}

func TestWSRejectsBadToken(t *testing.T) {
	ts := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer not-a-token"}},
	})
	if err == nil {
		t.Fatal("expected dial to fail with bad token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
