package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to an observer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from an observer.
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Commands are tiny.
	maxMessageSize = 64 * 1024

	// Outbound buffer per observer. A full buffer marks the observer as
	// slow and it is dropped rather than blocking the broadcast.
	sendBufferSize = 256
)

// Client is one connected observer: a websocket connection with a buffered
// send channel. It carries no job-specific state.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// mu guards send against the close/trySend race: the hub's Run
	// goroutine closes a dropped observer's channel while its readPump may
	// still be replying through trySend.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues a frame without blocking. Returns false when the buffer
// is full, which the hub treats as a slow observer, or when the client has
// already been closed.
func (c *Client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close shuts the send channel exactly once; the write pump then closes
// the underlying connection.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// detach hands the client back to the hub for unregistration, or gives up
// when the hub has already shut down.
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump relays inbound frames to the hub until the connection drops.
// One per connection; the only reader.
func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Observer read error", "error", err)
			}
			return
		}
		c.hub.handleCommand(c, message)
	}
}

// writePump drains the send channel to the connection and keeps the
// connection alive with pings. One per connection; the only writer, which
// preserves per-observer message order.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
