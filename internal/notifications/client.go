package notifications

import (
	"log/slog"
	"sync"
	"time"

	"helphub/internal/middleware"
	"helphub/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	// Outbound frames buffered per client before drops start.
	sendBufferSize = 256
)

var droppedNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// WSHub is implemented by hubs that own clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one live websocket session of an authenticated user.
type Client struct {
	// ID is unique per connection and used to exclude the origin of an emit.
	ID string

	Hub WSHub

	// The websocket connection. Nil in tests that only read Send.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	UserID uint

	// IncomingHandler is called for every frame read from the peer.
	IncomingHandler func(*Client, []byte)

	// OnActivity is called on every frame and pong.
	OnActivity func(userID uint)

	closeOnce sync.Once
	closed    chan struct{}
	// closeFrame is the close message WritePump sends once Send is drained.
	closeFrame []byte
	// flushed is closed when WritePump returns.
	flushed chan struct{}
}

// NewClient creates a client with a fresh id.
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:    make(chan []byte, sendBufferSize),
		closed:  make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

// ReadPump reads frames until the peer goes away, then unregisters the client.
// It runs on the handler goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("websocket read failed",
					slog.String("hub", c.Hub.Name()),
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.touch()

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump drains Send to the connection and keeps it alive with pings. It is
// the only writer of Conn once the client is registered.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		if c.flushed != nil {
			close(c.flushed)
		}
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				closeFrame := c.closeFrame
				if closeFrame == nil {
					closeFrame = []byte{}
				}
				_ = c.Conn.WriteMessage(websocket.CloseMessage, closeFrame)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. A full buffer drops the frame and
// tells the client so it can re-fetch. It reports whether the frame was queued.
func (c *Client) TrySend(message []byte) (queued bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
			queued = false
		}
	}()

	if c.isClosed() {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		middleware.Logger.Warn("websocket buffer full, dropped frame",
			slog.String("hub", c.hubName()),
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.String("client_id", c.ID),
		)
		select {
		case c.Send <- droppedNotice:
		default:
		}
		return false
	}
}

// close shuts the outbound channel once, which ends WritePump.
func (c *Client) close() { c.closeWith(nil) }

// closeWith is close with a close message for WritePump to send after the
// frames already queued.
func (c *Client) closeWith(closeFrame []byte) {
	c.closeOnce.Do(func() {
		c.closeFrame = closeFrame
		if c.closed != nil {
			close(c.closed)
		}
		close(c.Send)
	})
}

func (c *Client) isClosed() bool {
	if c.closed == nil {
		return false
	}
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) touch() {
	if c.OnActivity != nil {
		c.OnActivity(c.UserID)
	}
}

func (c *Client) hubName() string {
	if c.Hub == nil {
		return "unknown"
	}
	return c.Hub.Name()
}
