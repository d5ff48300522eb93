package ws

import (
	"context"
	"encoding/json"
	"sync"

	"pesagate/internal/domain"
)

// Client is one websocket subscription to a single order's status.
type Client struct {
	TrackingID string
	Send       chan []byte
	hub        *Hub
	mu         sync.Mutex
	closed     bool
}

func NewClient(trackingID string) *Client {
	return &Client{TrackingID: trackingID, Send: make(chan []byte, 16)}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.hub != nil {
		c.hub.unregister(c)
	}
	close(c.Send)
}

// Hub routes status updates to the clients watching each tracking id.
type Hub struct {
	mu      sync.RWMutex
	byOrder map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byOrder: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	if h.byOrder[c.TrackingID] == nil {
		h.byOrder[c.TrackingID] = make(map[*Client]struct{})
	}
	h.byOrder[c.TrackingID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byOrder[c.TrackingID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byOrder, c.TrackingID)
		}
	}
}

type statusMessage struct {
	Type string `json:"type"`
	domain.StatusUpdate
}

// Publish delivers u to every subscriber of u.TrackingID. Slow clients drop the message.
func (h *Hub) Publish(ctx context.Context, u domain.StatusUpdate) error {
	data, err := json.Marshal(statusMessage{Type: "status", StatusUpdate: u})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byOrder[u.TrackingID] {
		select {
		case c.Send <- data:
		default:
		}
	}
	return nil
}

func (h *Hub) ClientCount(trackingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOrder[trackingID])
}
