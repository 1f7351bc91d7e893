// Package sse streams queue events to UI subscribers over Server-Sent
// Events. The hub fans broadcast messages out to connected clients matched by
// glob pattern on client id.
package sse

import (
	"path/filepath"
	"sync"

	"github.com/skillsenselab/voxpipe/logger"
)

// Broadcaster is the send-side abstraction handlers and bridges depend on.
type Broadcaster interface {
	// BroadcastToPattern sends data to all clients whose id matches the
	// glob pattern (e.g. "jobs:*" or "jobs:abc123").
	BroadcastToPattern(pattern string, data []byte)
}

// Client is one connected SSE subscriber.
type Client struct {
	id     string
	events chan []byte
}

// NewClient creates a client with a buffered event channel.
func NewClient(id string) *Client {
	return &Client{
		id:     id,
		events: make(chan []byte, 256),
	}
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

// Events returns the channel the connection handler reads from.
func (c *Client) Events() <-chan []byte { return c.events }

// Send queues data for the client. Returns false when the client is too slow
// and the message is dropped.
func (c *Client) Send(data []byte) bool {
	select {
	case c.events <- data:
		return true
	default:
		logger.Warn("sse client channel full, dropping message", logger.Fields("client_id", c.id))
		return false
	}
}

// Close closes the client's event channel.
func (c *Client) Close() {
	close(c.events)
}

// Hub manages client connections and message broadcasting. Run its loop in a
// goroutine; Register/Unregister/BroadcastToPattern are safe from any
// goroutine.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	stopped    bool
	mu         sync.RWMutex
}

// Message is one broadcast: data delivered to every client matching Pattern.
type Message struct {
	Pattern string
	Data    []byte
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It blocks until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logger.Debug("sse client registered", logger.Fields("client_id", client.id, "total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.Close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastWithPattern(msg.Pattern, msg.Data)
		}
	}
}

// Stop shuts the hub down, closing all client connections. Safe to call
// multiple times.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.Close()
		delete(h.clients, id)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToPattern sends data to all clients matching the glob pattern.
// It never blocks: when the hub is stopped or its queue is full the message
// is dropped.
func (h *Hub) BroadcastToPattern(pattern string, data []byte) {
	select {
	case h.broadcast <- &Message{Pattern: pattern, Data: data}:
	case <-h.done:
	default:
		logger.Warn("sse broadcast queue full, dropping message", logger.Fields("pattern", pattern))
	}
}

func (h *Hub) broadcastWithPattern(pattern string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.clients {
		matched, err := filepath.Match(pattern, clientID)
		if err != nil {
			logger.Error("sse pattern match error", logger.Fields("pattern", pattern, logger.FieldError, err.Error()))
			return
		}
		if matched {
			client.Send(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var _ Broadcaster = (*Hub)(nil)
