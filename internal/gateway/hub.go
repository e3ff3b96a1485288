// Package gateway is the transport layer: the REST surface and the
// WebSocket hub that streams gateway events to subscribers. The hub is a
// plain fan-out on top of the event bus; it holds no trading state of its
// own and every command goes through the engine.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"tradegate/internal/event"
	"tradegate/internal/metrics"
)

// Hub manages WebSocket clients and fans bus events out to them.
type Hub struct {
	bus     *event.Bus
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub over the given event bus.
func NewHub(bus *event.Bus, m *metrics.Metrics) *Hub {
	return &Hub{
		bus:     bus,
		metrics: m,
		clients: make(map[*Client]bool),
	}
}

// Run drains a bus subscription and broadcasts every event as a JSON
// envelope until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe("ws-hub")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			h.broadcast(ev)
		}
	}
}

// envelope is the wire form of one event.
type envelope struct {
	Type event.Type  `json:"type"`
	Data interface{} `json:"data"`
	TS   string      `json:"ts"`
}

func (h *Hub) broadcast(ev event.Event) {
	payload, err := json.Marshal(envelope{
		Type: ev.Type(),
		Data: event.Payload(ev),
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("[gateway] envelope marshal: %v", err)
		return
	}

	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow client: drop rather than stall the fan-out.
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	log.Printf("[gateway] ws client connected (%d total)", count)
}

// RemoveClient unregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	log.Printf("[gateway] ws client disconnected (%d total)", count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
