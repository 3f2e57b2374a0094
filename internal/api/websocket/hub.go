package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLineSim/internal/metrics"
)

// Hub maintains active WebSocket viewers and fans line events out to them.
// Delivery is best-effort: a viewer that cannot keep up is dropped and is
// expected to reconnect and pull a fresh snapshot.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed on shutdown
	done chan struct{}

	closeOnce sync.Once

	// Mutex for thread-safe operations
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(count))

			h.logger.Info("viewer registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", count))

			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("viewer unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(count))

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("failed to marshal broadcast message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
					// Message queued for this viewer
				default:
					// Send buffer full: drop the viewer, it will resync
					// after reconnecting.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("viewer send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(count))
			metrics.Broadcasts.Inc()
		}
	}
}

// greet sends the connection_established event to a single freshly
// registered viewer.
func (h *Hub) greet(client *Client) {
	data, err := json.Marshal(NewConnectionEstablishedMessage(client.id.String()))
	if err != nil {
		h.logger.Error("failed to marshal greeting", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Broadcast queues a message for all connected viewers. It never blocks the
// caller; when the hub cannot keep up the message is dropped and logged.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		// Message queued for broadcast
	case <-h.done:
	default:
		h.logger.Warn("hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// Shutdown stops the event loop and closes every viewer connection.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.ConnectedClients.Set(0)
	h.logger.Info("WebSocket hub stopped")
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
