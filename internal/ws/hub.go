// Package ws streams dispatcher notification events to operator consoles
// over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/metrics"
	"github.com/good-yellow-bee/carealert/internal/models"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 64
)

// Event names sent to clients.
const (
	EventSnapshot = "snapshot"
	EventVisible  = "visible"
	EventResolved = "resolved"
)

// Message is the JSON envelope sent to clients. A snapshot carries every
// visible notification and replaces whatever the client held before.
type Message struct {
	Event         string                  `json:"event"`
	Notifications []dispatch.Notification `json:"notifications,omitempty"`
	Notification  *dispatch.Notification  `json:"notification,omitempty"`
	AlertID       string                  `json:"alert_id,omitempty"`
	Reason        models.ResolveReason    `json:"reason,omitempty"`
	At            time.Time               `json:"at"`
}

// Options configures a Hub.
type Options struct {
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Hub fans dispatcher events out to connected clients. It keeps its own copy
// of the visible set so a new client's snapshot and the events that follow
// it are consistent.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	visible map[string]dispatch.Notification
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a hub. Subscribe it to the dispatcher before alerts arrive.
func New(opts *Options) *Hub {
	if opts == nil {
		opts = &Options{}
	}
	h := &Hub{
		clients: make(map[*client]struct{}),
		visible: make(map[string]dispatch.Notification),
	}
	allowed := slices.Clone(opts.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin)
		},
	}
	return h
}

// OnVisible implements dispatch.Subscriber.
func (h *Hub) OnVisible(n dispatch.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.visible[n.AlertID] = n
	h.broadcastLocked(Message{Event: EventVisible, Notification: &n, AlertID: n.AlertID, At: n.VisibleAt})
}

// OnResolved implements dispatch.Subscriber.
func (h *Hub) OnResolved(alertID string, reason models.ResolveReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.visible[alertID]; !ok {
		return
	}
	delete(h.visible, alertID)
	h.broadcastLocked(Message{Event: EventResolved, AlertID: alertID, Reason: reason, At: time.Now()})
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.closeAll()
	return nil
}

// ServeHTTP upgrades the connection, sends the current snapshot, and then
// streams events until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		logging.From(r.Context()).Debug("websocket upgrade failed", logging.ErrAttr(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	snapshot := make([]dispatch.Notification, 0, len(h.visible))
	for _, n := range h.visible {
		snapshot = append(snapshot, n)
	}
	slices.SortFunc(snapshot, func(a, b dispatch.Notification) int {
		return a.VisibleAt.Compare(b.VisibleAt)
	})
	if data, err := json.Marshal(Message{Event: EventSnapshot, Notifications: snapshot, At: time.Now()}); err == nil {
		c.send <- data
	}

	h.clients[c] = struct{}{}
	metrics.WebSocketClients.Inc()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

// broadcastLocked never blocks: a client whose buffer is full is dropped.
func (h *Hub) broadcastLocked(msg Message) {
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Default().Error("encode websocket message", logging.ErrAttr(err))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames and detects disconnects.
func (c *client) readPump() {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(512)
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
