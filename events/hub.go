package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const clientBuffer = 64

// Client is one connected SSE stream.
type Client struct {
	ID     string
	topics map[string]struct{}
	Events chan Event
}

func (c *Client) wants(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// Hub manages in-process subscribers. A slow client loses events instead of blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	dropped atomic.Int64
	logger  *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Subscribe registers a client for the given topics; no topics means every topic.
func (h *Hub) Subscribe(topics ...string) *Client {
	client := &Client{
		ID:     uuid.NewString(),
		topics: make(map[string]struct{}, len(topics)),
		Events: make(chan Event, clientBuffer),
	}
	for _, t := range topics {
		client.topics[t] = struct{}{}
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.log().WithFields(logrus.Fields{"client_id": client.ID, "topics": topics, "total": total}).Debug("sse client registered")
	return client
}

func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		close(client.Events)
		delete(h.clients, clientID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.log().WithFields(logrus.Fields{"client_id": clientID, "total": total}).Debug("sse client unregistered")
	}
}

func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.wants(event.Topic) {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.dropped.Add(1)
			h.log().WithFields(logrus.Fields{"client_id": client.ID, "topic": event.Topic}).Warn("sse client buffer full, skipping event")
		}
	}
}

// Publish implements Notifier for local delivery.
func (h *Hub) Publish(_ context.Context, topic string, payload any) error {
	ev, err := Encode(topic, payload)
	if err != nil {
		return err
	}
	h.Broadcast(ev)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) log() *logrus.Logger {
	if h.logger == nil {
		return logrus.StandardLogger()
	}
	return h.logger
}
