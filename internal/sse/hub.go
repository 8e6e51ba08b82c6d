// Package sse pushes session events (search completion, batch progress) to
// connected browsers so the review UI refreshes without polling.
package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event is one Server-Sent Event.
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client is one connected SSE stream.
type Client struct {
	ID     string
	Events chan Event
}

// Hub fans events out to all connected clients. Slow clients are skipped
// rather than blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.log.Info("SSE client registered",
		zap.String("client_id", client.ID), zap.Int("total", len(h.clients)))
}

// Unregister removes a client and closes its event channel.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.log.Info("SSE client unregistered",
			zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Events <- event:
		default:
			h.log.Warn("SSE client buffer full, skipping event", zap.String("client_id", client.ID))
		}
	}
}

// PublishSearchComplete announces that a part's search finished.
func (h *Hub) PublishSearchComplete(partKey string, resultCount int, failed bool) {
	payload, _ := json.Marshal(map[string]any{
		"part_key": partKey,
		"results":  resultCount,
		"failed":   failed,
	})
	h.Broadcast(Event{EventType: "search_complete", Data: string(payload)})
}

// PublishBatchProgress announces batch search progress.
func (h *Hub) PublishBatchProgress(done, total int) {
	payload, _ := json.Marshal(map[string]any{
		"done":  done,
		"total": total,
	})
	h.Broadcast(Event{EventType: "batch_progress", Data: string(payload)})
}
