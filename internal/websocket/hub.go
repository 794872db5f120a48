package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

// Message is a reconciliation notice sent to debug stream clients. ID is the
// subscriber id and Action the reconciliation outcome.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, id string, data any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Data:   data,
	}
}

// Filter narrows a stream to one subscriber and/or one outcome. The zero
// Filter matches every message.
type Filter struct {
	SubscriberID string
	Outcome      string
}

// FilterFromQuery reads the subscriber_id and outcome query parameters.
func FilterFromQuery(q url.Values) Filter {
	return Filter{
		SubscriberID: q.Get("subscriber_id"),
		Outcome:      q.Get("outcome"),
	}
}

func (f Filter) Match(msg Message) bool {
	if f.SubscriberID != "" && f.SubscriberID != msg.ID {
		return false
	}
	if f.Outcome != "" && f.Outcome != msg.Action {
		return false
	}
	return true
}

// Hub tracks connected stream clients and fans reconciliation results out to
// the ones whose filter matches.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Calling it twice
// is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast queues msg for every matching client and returns how many
// received it. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal stream message", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		if !c.filter.Match(msg) {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Warn("stream client buffer full, dropping message",
				"type", msg.Type, "subscriber_id", msg.ID)
		}
	}
	return delivered
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
