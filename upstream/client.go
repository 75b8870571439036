// Package upstream speaks the realtime API's event protocol: a WebSocket
// carrying JSON events for session configuration, conversation items,
// input audio buffering, and turn lifecycle.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Config selects the upstream endpoint and credentials.
type Config struct {
	URL    string
	APIKey string
	Model  string
}

// Result is one item of the upstream event stream: either an event or a
// terminal read error, never both.
type Result struct {
	Event *ServerEvent
	Err   error
}

// Client is one live upstream connection. Writes are serialized by an
// internal mutex; reads are owned by a single background goroutine that
// feeds Events.
type Client struct {
	conn   *websocket.Conn
	log    *slog.Logger
	events chan Result

	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards writes
}

const eventChanSize = 100

// Dial connects to the realtime API and starts the background reader.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	url := cfg.URL
	if cfg.Model != "" {
		url = fmt.Sprintf("%s?model=%s", cfg.URL, cfg.Model)
	}

	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
		headers.Set("OpenAI-Beta", "realtime=v1")
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("upstream connect failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("upstream connect failed: %w", err)
	}

	c := &Client{
		conn:    conn,
		log:     logger,
		events:  make(chan Result, eventChanSize),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes one JSON event to the upstream socket.
func (c *Client) Send(event map[string]any) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode upstream event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeCh:
		return fmt.Errorf("upstream connection closed")
	default:
	}

	c.log.Debug("upstream send", "event_type", event["type"], "bytes", len(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write upstream event: %w", err)
	}
	return nil
}

// Events returns the stream of decoded upstream events. The channel is
// closed after a terminal Result with Err set, or after Close.
func (c *Client) Events() <-chan Result {
	return c.events
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			case c.events <- Result{Err: fmt.Errorf("upstream read: %w", err)}:
			}
			return
		}

		var event ServerEvent
		if err := sonic.Unmarshal(message, &event); err != nil {
			select {
			case <-c.closeCh:
				return
			case c.events <- Result{Err: fmt.Errorf("malformed upstream event: %w", err)}:
			}
			return
		}

		c.log.Debug("upstream recv", "event_type", event.Type, "bytes", len(message))

		select {
		case <-c.closeCh:
			return
		case c.events <- Result{Event: &event}:
		}
	}
}
