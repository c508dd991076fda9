package publish

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/logging"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type client struct {
	conn *websocket.Conn
	send chan []byte // holds only the newest message
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub broadcasts snapshots to websocket listeners. A slow listener only
// ever misses intermediate snapshots; it never holds up the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
	closed  bool

	onClients func(n int)
	onDrop    func()
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local overlays connect from file:// and other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     logging.NewLogger("Hub"),
		clients: make(map[*client]struct{}),
	}
}

// OnClientsChanged registers fn to run with the new client count
func (h *Hub) OnClientsChanged(fn func(n int)) {
	h.onClients = fn
}

// OnDrop registers fn to run when a listener misses a snapshot
func (h *Hub) OnDrop(fn func()) {
	h.onDrop = fn
}

// Publish implements Publisher. Unchanged snapshots are not resent.
func (h *Hub) Publish(snap estimator.Snapshot) {
	msg, err := json.Marshal(snap)
	if err != nil {
		h.log.Error("Failed to encode snapshot", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || bytes.Equal(msg, h.latest) {
		return
	}
	h.latest = msg

	for c := range h.clients {
		h.offer(c, msg)
	}
}

// offer replaces any unsent message with msg
func (h *Hub) offer(c *client, msg []byte) {
	select {
	case c.send <- msg:
		return
	default:
	}
	select {
	case <-c.send:
		if h.onDrop != nil {
			h.onDrop()
		}
	default:
	}
	select {
	case c.send <- msg:
	default:
	}
}

// ServeHTTP upgrades the request and streams snapshots until the
// listener goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed: " + err.Error())
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.DebugWithContext("Listener connected", map[string]interface{}{
		"remote":  r.RemoteAddr,
		"clients": n,
	})
	if h.onClients != nil {
		h.onClients(n)
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound messages and notices disconnects
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	c.close()

	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok && h.onClients != nil {
		h.onClients(n)
	}
}

// ClientCount returns the number of connected listeners
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every listener and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		c.close()
	}
}
