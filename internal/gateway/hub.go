package gateway

import (
	"sync"

	"go.uber.org/zap"
)

// ClientInterface lets tests stand in for real websocket connections.
type ClientInterface interface {
	ID() string
	SendBytes(b []byte)
	Close()
}

// Hub tracks connected websocket clients and fans each ranking payload out
// to all of them. Clients that cannot keep up drop frames instead of
// stalling the broadcast.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[ClientInterface]bool
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[ClientInterface]bool),
	}
}

func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Client connected", zap.String("client", client.ID()), zap.Int("clients", count))
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()
	client.Close()
	h.logger.Info("Client disconnected", zap.String("client", client.ID()), zap.Int("clients", count))
}

// Broadcast sends one payload to every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.SendBytes(payload)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
