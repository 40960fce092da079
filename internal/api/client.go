// Package api is the REST collaborator for call setup and teardown.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/velora-app/callkit/internal/auth"
	"github.com/velora-app/callkit/internal/proto"
)

var (
	// ErrUnauthorized is returned when the backend rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Client talks to the Velora call endpoints with bearer authentication.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	log     *zerolog.Logger
}

// NewClient builds a REST client. timeout bounds each request.
func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     logger,
	}
}

type startCallRequest struct {
	ReceiverID int64 `json:"receiverId"`
}

type startCallResponse struct {
	CallID proto.CallID `json:"call_id"`
}

type endCallRequest struct {
	CallID proto.CallID `json:"callId"`
}

// StartCall asks the backend to set up a call and returns the server-assigned
// call id.
func (c *Client) StartCall(ctx context.Context, receiverID int64) (proto.CallID, error) {
	var resp startCallResponse
	if err := c.post(ctx, "/v1/calls", startCallRequest{ReceiverID: receiverID}, &resp); err != nil {
		return "", fmt.Errorf("start call: %w", err)
	}
	if resp.CallID == "" {
		return "", fmt.Errorf("start call: empty call_id in response")
	}
	return resp.CallID, nil
}

// EndCall asks the backend to terminate the call. The caller proceeds with
// local cleanup regardless of the result.
func (c *Client) EndCall(ctx context.Context, callID proto.CallID) error {
	if err := c.post(ctx, "/v1/calls/"+callID.String()+"/end", endCallRequest{CallID: callID}, nil); err != nil {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
