// Package devserver implements the hot-reload transport: a websocket push
// channel carrying replacement program bundles plus a plain HTTP fetch
// fallback for the same resource. The server half only ever runs on the
// local development machine and refuses non-loopback callers.
package devserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message is the push-channel wire format.
type Message struct {
	Type   string `json:"type"`
	Bundle string `json:"bundle,omitempty"`
}

// Message types on the push channel.
const (
	TypeBundle = "bundle"
	TypePing   = "ping"
	TypePong   = "pong"
)

const (
	dialTimeout  = 10 * time.Second
	fetchTimeout = 30 * time.Second
)

// Client maintains the live connection to the development server. Bundle
// pushes are delivered through the OnBundle callback; pings are answered
// with pongs transparently.
type Client struct {
	// OnBundle receives each pushed bundle. Called from the read loop
	// goroutine; must not block for long.
	OnBundle func(bundle string)

	// OnDisconnect, when set, is called once after the push channel drops
	// for any reason other than Close.
	OnDisconnect func(err error)

	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient returns a client delivering pushes to onBundle. logger may be
// nil.
func NewClient(onBundle func(string), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		OnBundle: onBundle,
		logger:   logger.With("component", "devclient"),
	}
}

// Connect dials the push channel at serverURL (a ws:// URL). On success the
// read loop runs until the connection drops or Close is called.
func (c *Client) Connect(ctx context.Context, serverURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, serverURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial dev server %s: %w", serverURL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("client already closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("push channel already connected")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop owns all reads and, because pongs are its only writes, all
// writes on conn.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("push channel dropped", "error", err)
				if c.OnDisconnect != nil {
					c.OnDisconnect(err)
				}
			}
			return
		}
		switch msg.Type {
		case TypeBundle:
			c.logger.Info("bundle pushed", "bytes", len(msg.Bundle))
			if c.OnBundle != nil {
				c.OnBundle(msg.Bundle)
			}
		case TypePing:
			if err := conn.WriteJSON(Message{Type: TypePong}); err != nil {
				c.logger.Warn("failed to answer ping", "error", err)
			}
		default:
			c.logger.Warn("ignoring unknown push message", "type", msg.Type)
		}
	}
}

// Connected reports whether the push channel is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the push channel down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// FetchBundle retrieves the bundle over plain HTTP. Used once at initial
// load and as the fallback when the push channel is unavailable.
func FetchBundle(ctx context.Context, bundleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bundleURL, nil)
	if err != nil {
		return "", fmt.Errorf("build bundle request: %w", err)
	}
	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch bundle %s: %w", bundleURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch bundle %s: status %s", bundleURL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read bundle body: %w", err)
	}
	return string(body), nil
}
