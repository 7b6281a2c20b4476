package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	eventBufferSize       = 256
)

// Config holds the stream connection settings.
type Config struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

// Client is the WebSocket transport. It owns the reconnect policy and
// surfaces everything else through the event stream.
type Client struct {
	url            string
	token          string
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	halted    bool

	events    chan models.TransportEvent
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a disconnected client.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Client{
		url:            cfg.URL,
		token:          cfg.Token,
		reconnectDelay: cfg.ReconnectDelay,
		writeTimeout:   cfg.WriteTimeout,
		log:            log,
		events:         make(chan models.TransportEvent, eventBufferSize),
		done:           make(chan struct{}),
	}
}

// Connect dials the upstream and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.halted = false
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.emit(models.TransportEvent{Kind: models.TransportOpen})
	go c.readLoop(conn)
	return nil
}

// Disconnect closes the connection and suppresses reconnection until
// the next Connect. Safe to call when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.halted = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes one JSON frame under the write timeout.
func (c *Client) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return fmt.Errorf("stream not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	return nil
}

// Events returns the transport event stream.
func (c *Client) Events() <-chan models.TransportEvent {
	return c.events
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Destroy closes the connection permanently. Idempotent.
func (c *Client) Destroy() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.halted = true
		c.connected = false
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := c.url
	if c.token != "" {
		u = fmt.Sprintf("%s?token=%s", c.url, c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			halted := c.halted
			c.mu.Unlock()

			if c.isDone() {
				return
			}
			if !halted {
				c.emit(models.TransportEvent{Kind: models.TransportError, Err: err})
			}
			c.emit(models.TransportEvent{Kind: models.TransportClosed})
			if halted {
				return
			}
			c.reconnect()
			return
		}
		c.emit(models.TransportEvent{Kind: models.TransportMessage, Payload: b})
	}
}

// reconnect retries forever with a fixed delay until it succeeds or the
// client is halted. Each successful attempt spawns a fresh read loop.
func (c *Client) reconnect() {
	for attempt := 1; ; attempt++ {
		c.emit(models.TransportEvent{Kind: models.TransportStatus, Status: "reconnecting"})

		select {
		case <-c.done:
			return
		case <-time.After(c.reconnectDelay):
		}

		c.mu.Lock()
		halted := c.halted
		c.mu.Unlock()
		if halted {
			return
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			if c.log != nil {
				c.log.Warn("stream reconnect failed",
					logger.Int("attempt", attempt),
					logger.Error(err))
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		c.emit(models.TransportEvent{Kind: models.TransportOpen})
		go c.readLoop(conn)
		return
	}
}

func (c *Client) emit(ev models.TransportEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
