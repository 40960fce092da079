// Package transport maintains the persistent signaling connection to the
// messaging namespace and delivers typed call events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/proto"
)

var (
	// ErrNotConnected is returned when an emit is attempted without a live
	// connection.
	ErrNotConnected = errors.New("signaling not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("signaling client closed")
)

// Options configures the signaling client.
type Options struct {
	// URL of the messaging namespace, e.g. ws://host/ws.
	URL string
	// Tokens provides the bearer credential. An empty token suppresses
	// connection attempts entirely.
	Tokens auth.TokenSource
	// Gate, when set, suppresses connection attempts while it returns false
	// (e.g. the app sits on an unauthenticated navigation stack).
	Gate func() bool

	DedupCapacity     int
	ReconnectDelay    time.Duration
	MaxReconnectTries int
	MaxReconnectDelay time.Duration
}

// Client owns exactly one live connection to the signaling namespace.
type Client struct {
	url    string
	tokens auth.TokenSource
	gate   func() bool
	dedup  *DedupFilter
	log    *zerolog.Logger

	reconnectDelay time.Duration
	maxTries       int
	maxDelay       time.Duration

	events chan Event
	status chan Status

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	closed     bool
	retryTimer *time.Timer
	sessionCtx context.Context
}

// NewClient builds a signaling client. Zero option fields get conservative
// defaults.
func NewClient(opts Options, logger *zerolog.Logger) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxReconnectTries <= 0 {
		opts.MaxReconnectTries = 5
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	return &Client{
		url:            opts.URL,
		tokens:         opts.Tokens,
		gate:           opts.Gate,
		dedup:          NewDedupFilter(opts.DedupCapacity),
		log:            logger,
		reconnectDelay: opts.ReconnectDelay,
		maxTries:       opts.MaxReconnectTries,
		maxDelay:       opts.MaxReconnectDelay,
		events:         make(chan Event, 16),
		status:         make(chan Status, 8),
	}
}

// Events delivers decoded call events. call_received is already filtered for
// duplicates.
func (c *Client) Events() <-chan Event { return c.events }

// Statuses delivers connection lifecycle changes for telemetry. Sends are
// lossy; a slow consumer misses intermediate transitions, never the channel.
func (c *Client) Statuses() <-chan Status { return c.status }

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect establishes the signaling connection. It is idempotent: when an
// attempt is in flight or a connection is established it returns nil without
// side effects. It also returns nil, without dialing, when no usable
// credential is present or the gate suppresses connects. On dial failure a
// single retry is scheduled after the fixed reconnect delay; that is a
// best-effort nudge, not a guaranteed-delivery mechanism.
func (c *Client) Connect(ctx context.Context) error {
	err := c.dial(ctx)
	if err != nil && !errors.Is(err, ErrClosed) {
		c.scheduleRetry(c.reconnectDelay)
	}
	return err
}

func (c *Client) dial(ctx context.Context) error {
	if c.gate != nil && !c.gate() {
		c.log.Debug().Msg("signaling connect suppressed by navigation gate")
		return nil
	}
	token := c.tokens.Token()
	if token == "" {
		c.log.Debug().Msg("signaling connect skipped: no credential")
		return nil
	}
	if auth.Expired(token) {
		c.log.Debug().Msg("signaling connect skipped: credential expired")
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.sessionCtx = ctx
	c.mu.Unlock()

	c.notify(StatusConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.notify(StatusDisconnected)
		return fmt.Errorf("dial signaling: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
		return ErrClosed
	}
	c.conn = conn
	c.connecting = false
	c.mu.Unlock()

	c.log.Info().Str("url", c.url).Msg("signaling connected")
	c.notify(StatusConnected)

	go c.readLoop(ctx, conn)
	return nil
}

// Close tears the connection down deliberately. No reconnect is attempted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

// EmitAccept notifies the server that the local user accepted callID.
func (c *Client) EmitAccept(ctx context.Context, callID proto.CallID) error {
	return c.emit(ctx, proto.EmitCallAccept, proto.CallAcceptData{CallID: callID})
}

// EmitReject notifies the server that the local user rejected callID.
func (c *Client) EmitReject(ctx context.Context, callID proto.CallID) error {
	return c.emit(ctx, proto.EmitCallReject, proto.CallRejectData{CallID: callID})
}

func (c *Client) emit(ctx context.Context, typ string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("emit %s: %w", typ, err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			c.handleDisconnect(ctx, err)
			return
		}
		c.dispatch(ctx, out)
	}
}

func (c *Client) dispatch(ctx context.Context, out proto.Outbound) {
	if out.Error != nil {
		c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("signaling error frame")
		return
	}

	var ev Event
	switch out.Event {
	case proto.EventCallReceived:
		var data proto.CallReceivedData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Msg("bad call_received payload")
			return
		}
		if !c.dedup.ShouldProcess(data.CallID) {
			c.log.Debug().Str("call_id", data.CallID.String()).Msg("duplicate call_received dropped")
			return
		}
		ev = Event{
			Kind:           EventCallReceived,
			CallID:         data.CallID,
			Caller:         data.Caller,
			CallType:       data.CallType,
			ConversationID: data.ConversationID,
			JoinInfo:       data.JoinInfo,
		}
	case proto.EventCallAccepted:
		var data proto.CallAcceptedData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Msg("bad call_accepted payload")
			return
		}
		ev = Event{Kind: EventCallAccepted, CallID: data.CallID, JoinInfo: data.JoinInfo}
	case proto.EventCallRejected:
		var data proto.CallRejectedData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Msg("bad call_rejected payload")
			return
		}
		ev = Event{Kind: EventCallRejected, CallID: data.CallID, Reason: data.Reason}
	case proto.EventCallEnded:
		var data proto.CallEndedData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Msg("bad call_ended payload")
			return
		}
		ev = Event{Kind: EventCallEnded, CallID: data.CallID, Duration: data.Duration}
	default:
		c.log.Debug().Str("event", out.Event).Msg("unhandled signaling event")
		return
	}

	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) handleDisconnect(ctx context.Context, err error) {
	c.mu.Lock()
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	c.notify(StatusDisconnected)

	if closed || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure:
		// Deliberate close from our side or a clean server bye.
	case websocket.StatusGoingAway, websocket.StatusServiceRestart, websocket.StatusAbnormalClosure:
		// Server-initiated or transport-level closure: one retry after a
		// short fixed delay.
		c.log.Warn().Err(err).Msg("signaling connection lost, scheduling reconnect")
		c.scheduleRetry(c.reconnectDelay)
	default:
		c.log.Warn().Err(err).Msg("signaling connection lost, reconnecting with backoff")
		go c.redial(ctx)
	}
}

// redial retries the connection with capped exponential backoff.
func (c *Client) redial(ctx context.Context) {
	delay := c.reconnectDelay
	for attempt := 1; attempt <= c.maxTries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if c.Connected() {
			return
		}
		err := c.dial(ctx)
		if err == nil {
			// Either connected or silently suppressed; both end the loop.
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		c.log.Debug().Err(err).Int("attempt", attempt).Msg("signaling redial failed")

		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	c.log.Warn().Int("attempts", c.maxTries).Msg("signaling reconnect attempts exhausted")
}

func (c *Client) scheduleRetry(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.retryTimer != nil {
		return
	}
	ctx := c.sessionCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.retryTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		c.retryTimer = nil
		connected := c.conn != nil
		c.mu.Unlock()
		if connected {
			return
		}
		if err := c.dial(ctx); err != nil && !errors.Is(err, ErrClosed) {
			c.log.Debug().Err(err).Msg("signaling retry failed")
		}
	})
}

func (c *Client) notify(s Status) {
	select {
	case c.status <- s:
	default:
		// Telemetry only; drop rather than stall the transport.
	}
}
