package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"recipeshare/services/rs-realtime/internal/auth"
	"recipeshare/services/rs-realtime/internal/hub"
	"recipeshare/services/rs-realtime/internal/metrics"
	"recipeshare/services/rs-realtime/internal/notify"
)

// Sessions validates handshake credentials (the identity collaborator).
type Sessions interface {
	Resolve(ctx context.Context, token string) (*auth.Session, error)
}

// Presence is the liveness bookkeeping the handler feeds.
type Presence interface {
	Heartbeat(ctx context.Context, uid int64) error
	Offline(ctx context.Context, uid int64) error
}

type Options struct {
	TokenHeader   string
	BearerPrefix  string
	TokenQueryKey string
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
	QueueSize     int
}

func (o Options) withDefaults() Options {
	if o.TokenHeader == "" {
		o.TokenHeader = "Authorization"
	}
	if o.BearerPrefix == "" {
		o.BearerPrefix = "Bearer "
	}
	if o.TokenQueryKey == "" {
		o.TokenQueryKey = "token"
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 3 * time.Minute
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return o
}

// Handler owns the lifecycle of every live connection: handshake auth,
// heartbeat relay, teardown. Online/offline listeners are registered
// at wiring time so other subsystems can react without importing this
// package.
type Handler struct {
	hub      *hub.Hub
	sessions Sessions
	pres     Presence
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	onOnline  []func(uid int64)
	onOffline []func(uid int64)
}

func NewHandler(h *hub.Hub, sessions Sessions, pres Presence, log *zap.Logger, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      h,
		sessions: sessions,
		pres:     pres,
		log:      log,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// OnOnline registers a listener fired after a user's connection is
// accepted. Wiring-time only, not safe once traffic flows.
func (h *Handler) OnOnline(f func(uid int64)) { h.onOnline = append(h.onOnline, f) }

// OnOffline registers a listener fired after a user's last connection
// goes away.
func (h *Handler) OnOffline(f func(uid int64)) { h.onOffline = append(h.onOffline, f) }

// Kick sends a forced-logout notice to the uid's live connection on
// this node and closes it. Used by presence for admin-initiated
// termination.
func (h *Handler) Kick(uid int64) {
	c, ok := h.hub.Get(uid)
	if !ok {
		return
	}
	env := notify.Envelope{
		Type:  notify.TypeForcedLogout,
		Title: "Signed out",
		Body:  "Your session was ended by an administrator or a login elsewhere.",
		TS:    time.Now(),
	}
	if b, err := json.Marshal(env); err == nil {
		c.Enqueue(b)
	}
	c.Close()
	h.log.Info("connection kicked", zap.Int64("uid", uid))
}

// ServeHTTP is the single long-lived endpoint. Inbound traffic is a
// liveness ping and nothing else; anything unrecognized is logged and
// dropped.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r, h.opts.TokenHeader, h.opts.BearerPrefix, h.opts.TokenQueryKey)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess, err := h.sessions.Resolve(r.Context(), token)
	if err != nil {
		h.log.Warn("handshake session lookup failed", zap.Error(err))
	}
	if sess == nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteTimeout))
		_ = conn.Close()
		return
	}
	uid := sess.UID

	c := hub.NewConn(uid, conn, h.opts.QueueSize)
	h.hub.Register(c)
	metrics.OnlineConns.Set(float64(h.hub.Len()))

	if err := h.pres.Heartbeat(r.Context(), uid); err != nil {
		h.log.Warn("presence heartbeat failed at handshake", zap.Int64("uid", uid), zap.Error(err))
	}
	for _, f := range h.onOnline {
		f(uid)
	}
	h.sendWelcome(c)

	go h.writeLoop(c)
	h.readLoop(c)

	c.Close()
	if h.hub.Remove(c) {
		metrics.OnlineConns.Set(float64(h.hub.Len()))
		// Teardown may race process shutdown; an unreachable cache is
		// not a failure here.
		if err := h.pres.Offline(context.Background(), uid); err != nil {
			h.log.Debug("presence offline failed at teardown", zap.Int64("uid", uid), zap.Error(err))
		}
		for _, f := range h.onOffline {
			f(uid)
		}
	}
}

func (h *Handler) sendWelcome(c *hub.Conn) {
	env := notify.Envelope{
		Type:  notify.TypeWelcome,
		Title: "Connected",
		TS:    time.Now(),
	}
	if b, err := json.Marshal(env); err == nil {
		c.Enqueue(b)
	}
}

type inbound struct {
	Type string `json:"type"`
}

func (h *Handler) readLoop(c *hub.Conn) {
	for {
		_ = c.WS.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		mt, data, err := c.WS.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("connection read ended", zap.Int64("uid", c.UID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if isPing(data) {
			if err := h.pres.Heartbeat(context.Background(), c.UID); err != nil {
				h.log.Warn("presence heartbeat failed", zap.Int64("uid", c.UID), zap.Error(err))
			}
			c.Enqueue([]byte(`{"type":"pong"}`))
			continue
		}
		h.log.Debug("ignoring unexpected inbound payload", zap.Int64("uid", c.UID), zap.ByteString("payload", data))
	}
}

func isPing(data []byte) bool {
	if string(data) == "ping" {
		return true
	}
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return false
	}
	return in.Type == "ping"
}

// writeLoop drains the outbound queue onto the socket. It ends when
// the queue is closed (eviction, kick, read-side teardown) or a write
// fails, and always closes the socket on the way out.
func (h *Handler) writeLoop(c *hub.Conn) {
	defer func() {
		_ = c.WS.Close()
	}()
	for b := range c.Outbound() {
		_ = c.WS.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
			c.Close()
			return
		}
	}
	// queue closed: tell the client before dropping the socket
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.WS.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.opts.WriteTimeout))
}
