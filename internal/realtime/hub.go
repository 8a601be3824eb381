// Package realtime maintains the per-user websocket registry used for
// best-effort notification push. A user may hold several live connections;
// a push fans out to all of them.
package realtime

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/observability"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// ErrNoConnections reports a push to a user with no live connections. The
// dispatcher counts it and moves on.
var ErrNoConnections = errors.New("user has no live connections")

// Envelope is the wire frame for every pushed event.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// conn wraps one websocket with a buffered outbound queue drained by a single
// writer goroutine. gorilla/websocket allows only one concurrent writer.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// enqueue hands a frame to the writer. A full queue drops the frame: slow
// consumers must not block state transitions.
func (c *conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- frame:
		return nil
	default:
		return errors.New("outbound queue full")
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// Hub is the connection registry. It implements the dispatcher's Publisher.
type Hub struct {
	metrics   *observability.Metrics
	queueSize int

	mu    sync.RWMutex
	users map[market.UserID]map[*conn]struct{}
}

func NewHub(metrics *observability.Metrics, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		metrics:   metrics,
		queueSize: queueSize,
		users:     make(map[market.UserID]map[*conn]struct{}),
	}
}

// Attach registers ws for user, spawns its writer and read loop, and blocks
// until the connection dies. Inbound frames other than control messages are
// ignored; the socket is push-only.
func (h *Hub) Attach(user market.UserID, ws *websocket.Conn) {
	c := &conn{
		ws:   ws,
		send: make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}
	h.register(user, c)
	defer h.unregister(user, c)

	go c.writeLoop()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			c.close()
			return
		}
	}
}

// PushToUser serializes the event once and fans it out to every live
// connection of user. It fails only when nothing could be enqueued.
func (h *Hub) PushToUser(userID market.UserID, event string, payload any) error {
	frame, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoConnections
	}

	delivered := 0
	for _, c := range conns {
		if err := c.enqueue(frame); err != nil {
			log.Printf("push to %s dropped: %v", userID, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.New("all connections refused the frame")
	}
	return nil
}

// Connected reports whether user has at least one live connection.
func (h *Hub) Connected(user market.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[user]) > 0
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]*conn, 0)
	for _, set := range h.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.users = make(map[market.UserID]map[*conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if h.metrics != nil {
		h.metrics.ConnectedUsers.Set(0)
	}
}

func (h *Hub) register(user market.UserID, c *conn) {
	h.mu.Lock()
	set := h.users[user]
	if set == nil {
		set = make(map[*conn]struct{})
		h.users[user] = set
		if h.metrics != nil {
			h.metrics.ConnectedUsers.Inc()
		}
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SocketEvents.WithLabelValues("connect").Inc()
	}
}

func (h *Hub) unregister(user market.UserID, c *conn) {
	c.close()

	h.mu.Lock()
	set := h.users[user]
	if _, ok := set[c]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, user)
			if h.metrics != nil {
				h.metrics.ConnectedUsers.Dec()
			}
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SocketEvents.WithLabelValues("disconnect").Inc()
	}
}
