// Package telemetry streams simulation events to WebSocket subscribers as
// JSON records.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-dronegym/pkg/event"
	"github.com/opd-ai/go-dronegym/pkg/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultBufferSize = 256
)

// Record kinds
const (
	KindStep       = "step"
	KindEpisodeEnd = "episode_end"
	KindCollision  = "collision"
)

// Record is one JSON message sent to subscribers
type Record struct {
	Kind        string    `json:"kind"`
	Time        time.Time `json:"time"`
	EpisodeID   string    `json:"episodeId,omitempty"`
	Step        int       `json:"step,omitempty"`
	Reward      float64   `json:"reward,omitempty"`
	Done        bool      `json:"done,omitempty"`
	EnergyUsed  float64   `json:"energyUsed,omitempty"`
	Distance    float64   `json:"distance,omitempty"`
	Return      float64   `json:"return,omitempty"`
	Truncated   bool      `json:"truncated,omitempty"`
	ImpactSpeed float64   `json:"impactSpeed,omitempty"`
}

// RecordFromEvent converts a bus event. ok is false for event types that
// are not streamed.
func RecordFromEvent(e event.Event) (rec Record, ok bool) {
	rec.Time = time.Now()
	switch ev := e.(type) {
	case *event.StepEvent:
		rec.Kind = KindStep
		rec.EpisodeID = ev.EpisodeID
		rec.Step = ev.Step
		rec.Reward = ev.Reward
		rec.Done = ev.Done
		rec.EnergyUsed = ev.EnergyUsed
		rec.Distance = ev.Distance
	case *event.EpisodeEvent:
		if ev.GetType() != event.EpisodeEnded {
			return rec, false
		}
		rec.Kind = KindEpisodeEnd
		rec.EpisodeID = ev.EpisodeID
		rec.Step = ev.Steps
		rec.Return = ev.Return
		rec.Truncated = ev.Truncated
		rec.Done = true
	case *event.CollisionEvent:
		rec.Kind = KindCollision
		rec.ImpactSpeed = ev.ImpactSpeed
	default:
		return rec, false
	}
	return rec, true
}

type subscriber struct {
	conn *websocket.Conn
	send chan Record
}

// Hub fans records out to connected WebSocket clients. Slow clients lose
// records instead of blocking the publisher.
type Hub struct {
	logger     *logging.Logger
	upgrader   websocket.Upgrader
	bufferSize int

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewHub creates a hub. bufferSize is the per-client queue length; values
// below 1 use the default.
func NewHub(logger *logging.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		logger:     logger,
		bufferSize: bufferSize,
		clients:    make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Attach subscribes the hub to the streamed event types on bus. The
// returned function detaches it again.
func (h *Hub) Attach(bus *event.Bus) (detach func()) {
	handler := func(e event.Event) {
		if rec, ok := RecordFromEvent(e); ok {
			h.Broadcast(rec)
		}
	}
	unsubs := []func(){
		bus.Subscribe(event.StepCompleted, handler),
		bus.Subscribe(event.EpisodeEnded, handler),
		bus.Subscribe(event.CollisionDetected, handler),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Broadcast queues rec for every client without blocking
func (h *Hub) Broadcast(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- rec:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades the request and streams records until the client
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "telemetry hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &subscriber{conn: conn, send: make(chan Record, h.bufferSize)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Info(r.Context(), "Telemetry client connected", "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)

	h.logger.Info(context.Background(), "Telemetry client disconnected", "remote_addr", r.RemoteAddr)
}

func (h *Hub) register(c *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readPump(c *subscriber) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case rec, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sent returns how many records were queued for delivery
func (h *Hub) Sent() int64 { return h.sent.Load() }

// Dropped returns how many records were discarded because a client queue
// was full
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
