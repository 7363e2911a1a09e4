package hub

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is one live client connection with a bounded outbound queue
// (backpressure). WS may be nil in tests; the write loop is what ties
// the queue to the socket.
type Conn struct {
	UID int64
	WS  *websocket.Conn

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func NewConn(uid int64, ws *websocket.Conn, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Conn{UID: uid, WS: ws, out: make(chan []byte, queueSize)}
}

// Enqueue queues a payload for the write loop. It returns false when
// the connection is closed or the queue is full (drop, do not block).
func (c *Conn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

// Close marks the connection closed and releases the write loop.
// Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// Outbound is consumed by the write loop.
func (c *Conn) Outbound() <-chan []byte { return c.out }

// Hub maps uid -> single active connection. Registering a second
// connection for a uid evicts and closes the first.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]*Conn
	log   *zap.Logger
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{conns: make(map[int64]*Conn), log: log}
}

// Register installs c as the uid's connection. An existing connection
// for the same uid is closed best-effort first (multi-tab / reconnect:
// the oldest loses).
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	old := h.conns[c.UID]
	h.conns[c.UID] = c
	h.mu.Unlock()

	if old != nil && old != c {
		h.log.Debug("evicting older connection", zap.Int64("uid", c.UID))
		old.Close()
	}
}

// Remove deletes the uid's mapping only if it still points at c. A
// stale close callback from an evicted connection must not take down
// its replacement.
func (h *Hub) Remove(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.conns[c.UID]
	if !ok || cur != c {
		return false
	}
	delete(h.conns, c.UID)
	return true
}

func (h *Hub) Get(uid int64) (*Conn, bool) {
	h.mu.RLock()
	c, ok := h.conns[uid]
	h.mu.RUnlock()
	return c, ok
}

func (h *Hub) IsOnline(uid int64) bool {
	_, ok := h.Get(uid)
	return ok
}

// Send is fire-and-forget local delivery: false means no open
// connection here or the queue was full. Callers never treat false as
// an error.
func (h *Hub) Send(uid int64, payload []byte) bool {
	c, ok := h.Get(uid)
	if !ok {
		return false
	}
	return c.Enqueue(payload)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return n
}

// CloseAll closes every registered connection. Shutdown path only; the
// per-connection teardown still runs through its handler.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
