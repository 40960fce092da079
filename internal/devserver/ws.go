package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/proto"
)

// wsHandler upgrades HTTP connections and bridges them to hub sessions.
type wsHandler struct {
	hub  *Hub
	auth *auth.Service
	log  *zerolog.Logger
}

func newWSHandler(hub *Hub, authService *auth.Service, logger *zerolog.Logger) http.Handler {
	return &wsHandler{hub: hub, auth: authService, log: logger}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sess := h.hub.Attach(claims.UserID, claims.FullName, claims.PhotoURL)
	defer h.hub.Detach(sess)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sess)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Int64("user_id", sess.userID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate accepts the token either as a bearer header or a ?token query
// parameter, for clients that cannot set headers on WebSocket dials.
func (h *wsHandler) authenticate(r *http.Request) (*auth.Claims, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.auth.ValidateToken(token)
}

func (h *wsHandler) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if err := h.handleInbound(sess, inbound); err != nil {
			h.log.Debug().Err(err).
				Int64("user_id", sess.userID).
				Str("type", inbound.Type).
				Msg("inbound rejected")
			writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: "bad_request", Msg: err.Error()},
			})
			if writeErr != nil {
				return writeErr
			}
		}
	}
}

func (h *wsHandler) handleInbound(sess *session, inbound proto.Inbound) error {
	switch inbound.Type {
	case proto.EmitCallAccept:
		var data proto.CallAcceptData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return err
		}
		return h.hub.Accept(sess.userID, data.CallID.String())
	case proto.EmitCallReject:
		var data proto.CallRejectData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return err
		}
		return h.hub.Reject(sess.userID, data.CallID.String())
	default:
		return errors.New("unknown message type: " + inbound.Type)
	}
}

func (h *wsHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.done:
			return nil
		case out := <-sess.send:
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		}
	}
}
