// Package hub is the server side of the freshness subsystem. It owns
// the version store's change feed: every bump is fanned out to all
// connected WebSocket clients, and slow clients are dropped rather
// than allowed to stall the rest.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
	"github.com/svelumani/MusicianManager-sub005/pkg/push"
	"github.com/svelumani/MusicianManager-sub005/pkg/version"
)

const (
	// broadcastBufferSize bounds the bump-to-fanout queue. Beyond it
	// bumps are dropped; the polling fallback covers the loss.
	broadcastBufferSize = 100

	// clientQueueSize bounds each client's send queue. A client that
	// falls this far behind is disconnected.
	clientQueueSize = 32

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan push.Message

	// done is closed exactly once when the client is removed. The send
	// queue itself is never closed, so the fanout loop can always
	// attempt a non-blocking send on it.
	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// Hub fans version bumps out to connected clients. It implements
// version.Notifier so it can be attached to a version.Store.
type Hub struct {
	store   *version.Store
	log     logger.Logger
	metrics *Metrics

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	broadcast chan push.Message

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Hub attached to store: after this call every
// store.Bump is pushed to connected clients. A nil logger or metrics
// gets a no-op default.
func New(store *version.Store, log logger.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	if metrics == nil {
		// Registered on a throwaway registry, so the counts exist but
		// are not exported anywhere.
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	h := &Hub{
		store:     store,
		log:       log,
		metrics:   metrics,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan push.Message, broadcastBufferSize),
		done:      make(chan struct{}),
	}
	store.SetNotifier(h)

	h.wg.Add(1)
	go h.broadcastLoop()

	return h
}

// NotifyBump implements version.Notifier.
func (h *Hub) NotifyBump(key string) {
	h.metrics.Bumps.WithLabelValues(key).Inc()
	h.Broadcast(push.DataUpdate(key))
}

// Broadcast queues msg for delivery to all connected clients. If the
// queue is full the message is dropped; clients recover on their next
// poll.
func (h *Hub) Broadcast(msg push.Message) {
	select {
	case <-h.done:
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

// BroadcastSystemMessage sends an operator notice to all clients.
func (h *Hub) BroadcastSystemMessage(text string) {
	h.Broadcast(push.SystemMessage(text))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and stops the fanout loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.clientsMu.Lock()
		clients := make([]*client, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
			delete(h.clients, c)
		}
		h.clientsMu.Unlock()

		for _, c := range clients {
			c.shutdown()
		}
	})
}

// ServeWS upgrades an HTTP request to a notification channel
// connection and serves it until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan push.Message, clientQueueSize),
		done: make(chan struct{}),
	}

	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()
	h.metrics.ConnectedClients.Set(float64(total))

	h.log.Info("client connected", "client", c.id, "total", total)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.metrics.Broadcasts.Inc()

			h.clientsMu.RLock()
			targets := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.clientsMu.RUnlock()

			for _, c := range targets {
				select {
				case c.send <- msg:
				default:
					h.log.Warn("client send queue full, dropping client", "client", c.id)
					h.metrics.DroppedClients.Inc()
					h.removeClient(c)
				}
			}
		}
	}
}

// writePump owns all writes on the connection. It exits when the
// client is removed or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.log.Warn("write to client failed", "client", c.id, "error", err)
				h.removeClient(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.removeClient(c)
				return
			}
		}
	}
}

// readPump discards client frames; it exists to run the pong handler
// and to notice disconnects.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)

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

// removeClient is idempotent, only the first caller logs and adjusts
// the gauge.
func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	_, exists := h.clients[c]
	if exists {
		delete(h.clients, c)
	}
	total := len(h.clients)
	h.clientsMu.Unlock()

	c.shutdown()
	if !exists {
		return
	}
	h.metrics.ConnectedClients.Set(float64(total))
	h.log.Info("client disconnected", "client", c.id, "total", total)
}
