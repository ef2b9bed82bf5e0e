package broadcast

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"proctor/internal/metrics"
)

// Message is the envelope written to every websocket client.
type Message struct {
	Type      string      `json:"type"`
	SessionID int64       `json:"session_id"`
	Data      interface{} `json:"data"`
}

const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Hub fans live session updates out to connected dashboard clients. Clients
// subscribe to one session or, with session id 0, to all of them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a hub; call RunWithContext to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Broadcast queues a message for the session's subscribers. It never blocks:
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(sessionID int64, messageType string, payload interface{}) {
	msg := Message{Type: messageType, SessionID: sessionID, Data: payload}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast queue full, dropping message",
			zap.Int64("session_id", sessionID),
			zap.String("type", messageType),
		)
	}
}

// Register adds a client. It returns false if the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; safe to call after the hub has stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext serves registrations and broadcasts until ctx is cancelled,
// then closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer close(h.done)
	h.logger.Info("Websocket hub started.")

	for {
		// Lifecycle events first so a freshly registered client sees the next broadcast.
		select {
		case client := <-h.register:
			h.add(client)
			continue
		case client := <-h.unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			count := h.ClientCount()
			h.closeAllClients()
			h.logger.Info("Websocket hub stopped.", zap.Int("clients_closed", count))
			return ctx.Err()
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	h.logger.Info("Websocket client connected", zap.Uint64("client_id", c.id), zap.Int64("session_id", c.sessionID), zap.Int("total_clients", total))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(total))
	h.logger.Info("Websocket client disconnected", zap.Uint64("client_id", c.id), zap.Int("total_clients", total))
}

func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(message.SessionID) {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	// Slow clients are disconnected rather than allowed to stall the hub.
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Websocket client too slow, disconnected", zap.Uint64("client_id", client.id))
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Set(0)
}
