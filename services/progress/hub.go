// Package progress streams queue and batch events to websocket clients.
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxClients = 50
	writeTimeout      = 10 * time.Second
	pongTimeout       = 60 * time.Second
	pingInterval      = 30 * time.Second
	clientBuffer      = 64
	broadcastBuffer   = 256
)

// Event types
const (
	EventQueueStarted    = "queue_started"
	EventQueueStopped    = "queue_stopped"
	EventBatchStarted    = "batch_started"
	EventInstrument      = "instrument"
	EventBatchFinished   = "batch_finished"
	EventBatchCheckpoint = "batch_checkpoint"
)

// Publisher receives progress events. Publish must not block.
type Publisher interface {
	Publish(eventType string, data any)
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(string, any) {}

// Message is the wire format sent to clients
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Time string `json:"time"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	accepted chan bool
}

// Hub fans events out to connected websocket clients
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	maxClients int
	logger     *zap.Logger
}

// NewHub creates a hub and starts its loop
func NewHub(maxClients int, logger *zap.Logger) *Hub {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxClients: maxClients,
		logger:     logger,
	}
	go h.run()
	return h
}

// Publish queues an event for broadcast, dropping it when the hub is backed up
func (h *Hub) Publish(eventType string, data any) {
	msg := Message{Type: eventType, Data: data, Time: time.Now().UTC().Format(time.RFC3339)}
	select {
	case <-h.shutdown:
	case h.broadcast <- msg:
	default:
		h.logger.Debug("progress event dropped", zap.String("type", eventType))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client and stops the hub
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
		h.mu.Lock()
		for c := range h.clients {
			close(c.send)
		}
		h.clients = make(map[*client]bool)
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.shutdown:
			return

		case c := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxClients {
				h.mu.Unlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"))
				_ = c.conn.Close()
				c.accepted <- false
				h.logger.Warn("websocket client rejected", zap.Int("max_clients", h.maxClients))
				continue
			}
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			c.accepted <- true
			h.logger.Info("websocket client connected", zap.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.Int("clients", n))

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("marshal progress event", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// slow client
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the request and attaches the client to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), accepted: make(chan bool, 1)}
	if !h.attach(c) {
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// attach registers c and reports whether the hub kept it. A rejected
// client's connection is already closed.
func (h *Hub) attach(c *client) bool {
	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = c.conn.Close()
		return false
	}
	select {
	case ok := <-c.accepted:
		return ok
	case <-h.shutdown:
		_ = c.conn.Close()
		return false
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump only services control frames; clients do not send commands
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
