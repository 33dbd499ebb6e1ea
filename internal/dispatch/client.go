// Package dispatch builds agent instructions and delivers them over the
// gateway transport, enforcing orchestrator-conflict rules and session
// reuse along the way.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// GatewayClient is the outbound transport to the agent gateway. The
// connection is established lazily, once per call, only when not already
// connected. Call carries an idempotency key so a retried call is
// deduplicated at the transport layer.
type GatewayClient interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params map[string]any, idempotencyKey string) error
}

// frame is the wire format of one gateway request.
type frame struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// WSClient is the WebSocket implementation of GatewayClient.
type WSClient struct {
	mu     sync.Mutex
	url    string
	conn   *websocket.Conn
	reqSeq uint64
}

// NewWSClient creates a client for the gateway at url. No connection is
// made until Connect.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url}
}

// IsConnected reports whether a connection is open.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the gateway WebSocket endpoint.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Call sends one request frame. There is no cancellation path once the
// frame is written: the remote agent may act on it even if this call
// later times out.
func (c *WSClient) Call(ctx context.Context, method string, params map[string]any, idempotencyKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	c.reqSeq++
	f := frame{
		Type:           "request",
		ID:             fmt.Sprintf("req-%d", c.reqSeq),
		Method:         method,
		Params:         raw,
		IdempotencyKey: idempotencyKey,
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close shuts the connection down.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.conn = nil
	return err
}
