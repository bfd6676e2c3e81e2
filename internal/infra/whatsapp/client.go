// Package whatsapp delivers replies through a WhatsApp bridge.
// The bridge (e.g. whatsapp-web.js based) owns the WhatsApp session; this
// client only writes JSON frames to it over a WebSocket.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Frame is the outbound bridge message
type Frame struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant,omitempty"`
	To       string `json:"to"`
	Content  string `json:"content"`
}

// Client is a lazily connected bridge client, safe for concurrent use
type Client struct {
	bridgeURL string
	log       zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient creates a bridge client, the connection is dialed on first send
func NewClient(bridgeURL string, log zerolog.Logger) (*Client, error) {
	if bridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Client{
		bridgeURL: bridgeURL,
		log:       log.With().Str("component", "whatsapp").Logger(),
	}, nil
}

// Send writes one message frame, redialing once if the connection went away
func (c *Client) Send(ctx context.Context, tenantID, to, text string) error {
	data, err := json.Marshal(Frame{Type: "message", TenantID: tenantID, To: to, Content: text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("whatsapp client closed")
	}

	for attempt := 0; attempt < 2; attempt++ {
		if c.conn == nil {
			if err = c.connectLocked(ctx); err != nil {
				return err
			}
		}

		deadline := time.Now().Add(writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = c.conn.SetWriteDeadline(deadline)

		if err = c.conn.WriteMessage(websocket.TextMessage, data); err == nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("whatsapp write failed, reconnecting")
		_ = c.conn.Close()
		c.conn = nil
	}
	return fmt.Errorf("send whatsapp message: %w", err)
}

// connectLocked dials the bridge. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, c.bridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.bridgeURL, err)
	}
	c.conn = conn
	go c.readLoop(conn)

	c.log.Info().Str("url", c.bridgeURL).Msg("whatsapp bridge connected")
	return nil
}

// readLoop consumes control frames and bridge acks until the connection drops
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Debug().Err(err).Msg("whatsapp bridge connection ended")
			}
			return
		}

		var frame struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if json.Unmarshal(msg, &frame) == nil && frame.Type == "error" {
			c.log.Warn().Str("error", frame.Error).Msg("whatsapp bridge reported error")
		}
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
