// Package hub manages the set of connected observers, fans outbound events
// out to all of them, and relays inbound commands to the job controller.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"imagehub/internal/observability"
	"imagehub/internal/protocol"
)

// CommandHandler is the controller surface driven by inbound commands.
type CommandHandler interface {
	Start(ops []protocol.Operation, numWorkers int) error
	Stop() error
	Status() protocol.StatusData
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from anywhere; the protocol carries no
	// credentials (auth is a declared non-goal).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns the observer registry. A single coordination goroutine serializes
// register/unregister/broadcast; it never performs CPU-bound work.
type Hub struct {
	controller CommandHandler
	metrics    *observability.Metrics
	logger     *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	observers  map[*Client]bool

	done chan struct{}
}

// New creates a hub. SetController must be called before Run or ServeWS;
// the split breaks the construction cycle with the controller, which
// broadcasts through the hub. metrics may be nil.
func New(metrics *observability.Metrics) *Hub {
	return &Hub{
		metrics:    metrics,
		logger:     slog.With("component", "hub"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		observers:  make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// SetController binds the command handler. Must happen before the hub
// serves its first connection.
func (h *Hub) SetController(controller CommandHandler) {
	h.controller = controller
}

// Run is the coordination loop. It returns when ctx is cancelled, closing
// every observer connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.observers {
				c.close()
				delete(h.observers, c)
			}
			return

		case c := <-h.register:
			h.observers[c] = true
			h.logger.Info("Observer connected", "observers", len(h.observers))
			if h.metrics != nil {
				h.metrics.RecordObserverConnected(ctx)
			}
			// Late joiners see current state immediately.
			c.trySend(mustMarshal(protocol.NewStatusEvent(h.controller.Status())))
			c.trySend(mustMarshal(h.greeting()))

		case c := <-h.unregister:
			h.drop(ctx, c, "")

		case msg := <-h.broadcast:
			if h.metrics != nil {
				h.metrics.RecordBroadcast(ctx, len(h.observers))
			}
			for c := range h.observers {
				if !c.trySend(msg) {
					h.drop(ctx, c, "send buffer full")
				}
			}
		}
	}
}

// drop removes an observer from the registry. Safe when already removed.
func (h *Hub) drop(ctx context.Context, c *Client, reason string) {
	if _, ok := h.observers[c]; !ok {
		return
	}
	delete(h.observers, c)
	c.close()
	if reason != "" {
		h.logger.Warn("Observer dropped", "reason", reason, "observers", len(h.observers))
		if h.metrics != nil {
			h.metrics.RecordObserverDropped(ctx)
		}
	} else {
		h.logger.Info("Observer disconnected", "observers", len(h.observers))
	}
	if h.metrics != nil {
		h.metrics.RecordObserverDisconnected(ctx)
	}
}

// Broadcast publishes one event to every currently connected observer.
// Best-effort: a slow or dead observer is dropped, never blocking others.
// Safe to call from any goroutine, including after shutdown.
func (h *Hub) Broadcast(ev protocol.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ServeWS upgrades an HTTP request to a websocket observer connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// handleCommand parses one inbound frame. Unknown or malformed commands
// are ignored without a reply; recognized ones drive the controller.
// Replies to get_status and ping go to the sender only.
func (h *Hub) handleCommand(c *Client, data []byte) {
	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		h.logger.Debug("Ignoring malformed command", "error", err)
		return
	}

	switch cmd.Action {
	case protocol.ActionGetStatus:
		c.trySend(mustMarshal(protocol.NewStatusEvent(h.controller.Status())))

	case protocol.ActionPing:
		c.trySend(mustMarshal(protocol.NewPongEvent()))

	case protocol.ActionStart:
		if err := h.controller.Start(cmd.Start.Operations, cmd.Start.NumWorkers); err != nil {
			// Rejected start: only the sender is told.
			c.trySend(mustMarshal(protocol.NewLogEvent(protocol.LevelWarning, err.Error())))
		}

	case protocol.ActionStop:
		if err := h.controller.Stop(); err != nil {
			h.logger.Debug("Stop ignored", "error", err)
		}
	}
}

// greeting is the welcome log line sent to a newly connected observer.
func (h *Hub) greeting() protocol.Event {
	st := h.controller.Status()
	return protocol.NewLogEvent(protocol.LevelInfo, fmt.Sprintf(
		"connected to server (%d cores | filter engine: %s | telemetry: %s)",
		st.CPUCount, availability(st.Filter), availability(st.Telemetry)))
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func mustMarshal(ev protocol.Event) []byte {
	msg, err := json.Marshal(ev)
	if err != nil {
		// Event payloads are plain structs; this cannot fail at runtime.
		panic(err)
	}
	return msg
}
