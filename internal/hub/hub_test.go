package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"imagehub/internal/protocol"
	"imagehub/internal/testutil"
)

type stubController struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	lastOps  []protocol.Operation
}

func (c *stubController) Start(ops []protocol.Operation, numWorkers int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.lastOps = ops
	return c.startErr
}

func (c *stubController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *stubController) Status() protocol.StatusData {
	return protocol.StatusData{State: "idle", CPUCount: 8, Filter: true, Telemetry: true}
}

func (c *stubController) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, controller CommandHandler) (*Hub, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil)
	h.SetController(controller)
	go h.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return h, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return f
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, conn); f.Type == eventType {
			return f
		}
	}
	t.Fatalf("no %s frame arrived", eventType)
	return frame{}
}

func TestConnectReceivesSnapshotAndGreeting(t *testing.T) {
	_, server := newTestHub(t, &stubController{})
	conn := dial(t, server)

	f := readFrame(t, conn)
	if f.Type != protocol.EventStatus {
		t.Fatalf("first frame type = %q, want status", f.Type)
	}
	var status protocol.StatusData
	if err := json.Unmarshal(f.Data, &status); err != nil {
		t.Fatalf("bad status payload: %v", err)
	}
	if status.State != "idle" || status.CPUCount != 8 {
		t.Errorf("unexpected snapshot: %+v", status)
	}

	f = readFrame(t, conn)
	if f.Type != protocol.EventLog {
		t.Fatalf("second frame type = %q, want log greeting", f.Type)
	}
	var log protocol.LogData
	if err := json.Unmarshal(f.Data, &log); err != nil {
		t.Fatalf("bad log payload: %v", err)
	}
	if !strings.Contains(log.Message, "8 cores") {
		t.Errorf("greeting = %q, want core count", log.Message)
	}
}

func TestPingPong(t *testing.T) {
	_, server := newTestHub(t, &stubController{})
	conn := dial(t, server)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(t, conn, protocol.EventPong)
}

func TestGetStatusRepliesToSenderOnly(t *testing.T) {
	_, server := newTestHub(t, &stubController{})
	sender := dial(t, server)
	other := dial(t, server)

	// Drain the connect frames on both.
	readUntil(t, sender, protocol.EventLog)
	readUntil(t, other, protocol.EventLog)

	if err := sender.WriteMessage(websocket.TextMessage, []byte(`{"action":"get_status"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(t, sender, protocol.EventStatus)

	// The other observer must see nothing.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, raw, err := other.ReadMessage(); err == nil {
		t.Errorf("unrelated observer received %s", raw)
	}
}

func TestMalformedCommandIgnored(t *testing.T) {
	controller := &stubController{}
	_, server := newTestHub(t, controller)
	conn := dial(t, server)

	for _, bad := range []string{"not json", `{"action":"launch"}`, `{}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	// Connection survives; ping still answered.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(t, conn, protocol.EventPong)

	if starts, stops := controller.counts(); starts != 0 || stops != 0 {
		t.Errorf("controller driven by malformed frames: starts=%d stops=%d", starts, stops)
	}
}

func TestStartAndStopDriveController(t *testing.T) {
	controller := &stubController{}
	_, server := newTestHub(t, controller)
	conn := dial(t, server)

	start := `{"action":"start","data":{"operaciones":[{"tipo":"escala_grises"}],"num_workers":2}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"stop"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(t, conn, protocol.EventPong)

	starts, stops := controller.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1/1", starts, stops)
	}
	controller.mu.Lock()
	defer controller.mu.Unlock()
	if len(controller.lastOps) != 1 || controller.lastOps[0].Kind != protocol.OpGrayscale {
		t.Errorf("operations = %v, want single grayscale", controller.lastOps)
	}
}

func TestRejectedStartWarnsSender(t *testing.T) {
	controller := &stubController{startErr: errors.New("a job is already in progress")}
	_, server := newTestHub(t, controller)
	conn := dial(t, server)
	readUntil(t, conn, protocol.EventLog) // connect frames

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"start"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	f := readUntil(t, conn, protocol.EventLog)
	var log protocol.LogData
	if err := json.Unmarshal(f.Data, &log); err != nil {
		t.Fatalf("bad log payload: %v", err)
	}
	if log.Level != protocol.LevelWarning || !strings.Contains(log.Message, "already in progress") {
		t.Errorf("warning = %+v, want rejection message", log)
	}
}

// A slow observer is dropped by the hub's Run goroutine while its readPump
// may still be replying to commands. Late replies must be discarded, never
// sent on the closed channel.
func TestDroppedObserverToleratesLateReplies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(nil)
	h.SetController(&stubController{})
	go h.Run(ctx)

	// An observer with a tiny buffer and no write pump: the connect
	// snapshot fills the buffer, so the first broadcast marks it slow.
	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- c

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.handleCommand(c, []byte(`{"action":"ping"}`))
			}
		}
	}()

	for i := 0; i < 20; i++ {
		h.Broadcast(protocol.NewProgressEvent(i, 20, "a.jpg"))
	}
	testutil.MustWaitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(time.Millisecond))

	// Keep replying to the already-closed client for a while.
	for i := 0; i < 100; i++ {
		h.handleCommand(c, []byte(`{"action":"get_status"}`))
	}
	close(stop)
	wg.Wait()

	if c.trySend([]byte(`{}`)) {
		t.Error("send to a dropped observer reported success")
	}
}

// After shutdown nothing services the unregister channel; a surviving
// readPump must still be able to detach without blocking forever.
func TestDetachAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(nil)
	h.SetController(&stubController{})
	go h.Run(ctx)
	cancel()

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub never shut down")
	}

	c := &Client{hub: h, send: make(chan []byte, 1)}
	finished := make(chan struct{})
	go func() {
		c.detach()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("detach blocked after hub shutdown")
	}
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	h, server := newTestHub(t, &stubController{})
	first := dial(t, server)
	second := dial(t, server)
	readUntil(t, first, protocol.EventLog)
	readUntil(t, second, protocol.EventLog)

	h.Broadcast(protocol.NewProgressEvent(1, 4, "a.jpg"))

	for _, conn := range []*websocket.Conn{first, second} {
		f := readUntil(t, conn, protocol.EventProgress)
		var p protocol.ProgressData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			t.Fatalf("bad progress payload: %v", err)
		}
		if p.Percentage != 25 || p.File != "a.jpg" {
			t.Errorf("progress = %+v", p)
		}
	}
}
