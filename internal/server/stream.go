package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/matzehuels/depscan/pkg/lookup"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = (pongTimeout * 9) / 10
)

// StreamMessage is the JSON frame pushed to /api/stream clients.
type StreamMessage struct {
	Type     string          `json:"type"`
	Snapshot lookup.Snapshot `json:"snapshot"`
	Counts   lookup.Counts   `json:"counts"`
}

// Hub fans snapshots out to websocket clients. A slow client only ever has
// the newest snapshot queued; older ones are dropped.
type Hub struct {
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Publish queues snap for every connected client. Its signature matches
// lookup.WithObserver.
func (h *Hub) Publish(snap lookup.Snapshot) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	f, err := encodeFrame(snap)
	if err != nil {
		h.logger.Warn("encode snapshot", "err", err)
		return
	}
	for _, c := range clients {
		c.offer(f)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// serve upgrades the request and streams snapshots until the client goes
// away. current supplies the snapshot sent right after the handshake.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, current func() lookup.Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "remote", r.RemoteAddr)

	// Registered first, so nothing published after this snapshot is missed.
	if f, err := encodeFrame(current()); err == nil {
		c.offer(f)
	}

	go c.writeLoop()
	c.readLoop()

	close(c.done)
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close()
	h.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
}

type frame struct {
	rev  uint64
	data []byte
}

func encodeFrame(snap lookup.Snapshot) (frame, error) {
	data, err := json.Marshal(StreamMessage{Type: "snapshot", Snapshot: snap, Counts: snap.Counts()})
	if err != nil {
		return frame{}, err
	}
	return frame{rev: snap.Revision, data: data}, nil
}

type client struct {
	conn *websocket.Conn
	wake chan struct{}
	done chan struct{}

	mu    sync.Mutex
	next  *frame
	sent  uint64
	wrote bool
}

// offer replaces the queued frame if f is newer than both it and the last
// frame written.
func (c *client) offer(f frame) {
	c.mu.Lock()
	if (!c.wrote || f.rev > c.sent) && (c.next == nil || f.rev > c.next.rev) {
		c.next = &f
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) take() (frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next == nil {
		return frame{}, false
	}
	f := *c.next
	c.next = nil
	c.sent = f.rev
	c.wrote = true
	return f, true
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			f, ok := c.take()
			if !ok {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// readLoop discards client messages and returns once the connection fails.
func (c *client) readLoop() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
