package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/kinectcast/internal/pipeline"
)

// Timing defaults.
const (
	// DefaultInterval paces each client at roughly 30 messages per second.
	DefaultInterval = 30 * time.Millisecond
	writeTimeout    = time.Second
)

// Wire formats a client may request with ?format=.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// snapshot is an immutable published message. It is replaced wholesale,
// never mutated, so readers need no lock.
type snapshot struct {
	seq uint64
	msg *Message

	jsonOnce sync.Once
	jsonData []byte
	jsonErr  error

	packOnce sync.Once
	packData []byte
	packErr  error
}

func (s *snapshot) encode(format string) (int, []byte, error) {
	if format == FormatMsgpack {
		s.packOnce.Do(func() { s.packData, s.packErr = msgpack.Marshal(s.msg) })
		return websocket.BinaryMessage, s.packData, s.packErr
	}
	s.jsonOnce.Do(func() { s.jsonData, s.jsonErr = json.Marshal(s.msg) })
	return websocket.TextMessage, s.jsonData, s.jsonErr
}

type client struct {
	conn   *websocket.Conn
	format string
	since  uint64
	done   chan struct{}
}

// Hub holds the latest skeleton and serves it to WebSocket clients.
// Each client gets its own writer goroutine that wakes every interval and
// sends the latest value published after the client connected.
type Hub struct {
	interval time.Duration
	latest   atomic.Pointer[snapshot]
	seq      atomic.Uint64
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub. An interval <= 0 uses DefaultInterval.
func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub{
		interval: interval,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualizers are served from anywhere on the LAN
			},
		},
	}
}

// Name implements pipeline.Sink.
func (h *Hub) Name() string {
	return "websocket"
}

// Consume implements pipeline.Sink by publishing the frame's skeleton at
// its unsmoothed projected pixels.
func (h *Hub) Consume(ctx context.Context, f *pipeline.Frame) error {
	h.Publish(NewMessage(&f.Skeleton, f.Raw))
	return nil
}

// Publish replaces the latest message.
func (h *Hub) Publish(msg *Message) {
	h.latest.Store(&snapshot{seq: h.seq.Add(1), msg: msg})
}

// Latest returns the most recently published message, or nil.
func (h *Hub) Latest() *Message {
	if s := h.latest.Load(); s != nil {
		return s.msg
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams skeletons until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	format := FormatJSON
	if r.URL.Query().Get("format") == FormatMsgpack {
		format = FormatMsgpack
	}

	c := &client{
		conn:   conn,
		format: format,
		since:  h.seq.Load(),
		done:   make(chan struct{}),
	}
	h.add(c)
	slog.Info("client connected", "remote", conn.RemoteAddr().String(), "format", format)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	// Reading keeps control frames flowing and notices closed sockets
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(c.done)
	<-writerDone
	h.remove(c)
	conn.Close()
	slog.Info("client disconnected", "remote", conn.RemoteAddr().String())
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := h.latest.Load()
			if snap == nil || snap.seq <= c.since {
				continue
			}

			kind, data, err := snap.encode(c.format)
			if err != nil {
				slog.Error("encode skeleton message", "format", c.format, "error", err)
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(kind, data); err != nil {
				// Unblock the reader so the handler can drop this client
				c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.conn.Close()
	}
	return nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}
