package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"tradegate/internal/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer. Filters are optional: a client with
// no SUBSCRIBE message receives every event; after the first SUBSCRIBE it
// receives only the requested event types, with market data additionally
// narrowed to the requested symbols.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filters clientFilters
}

type clientFilters struct {
	types   map[event.Type]bool
	symbols map[string]bool
}

// subscribeMsg is the client-to-server control message.
type subscribeMsg struct {
	Type    string   `json:"type"`
	Events  []string `json:"events,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

// NewClient registers a WebSocket connection with the hub and starts its
// read and write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  hub,
	}
	conn.EnableWriteCompression(true)
	hub.addClient(c)

	go c.writePump()
	go c.readPump()
	return c
}

// wants reports whether the client's filters admit this event. Called
// from the hub broadcast path under the hub's read lock, which is also
// held during readPump filter swaps via the hub mutex ordering below.
func (c *Client) wants(ev event.Event) bool {
	f := c.filters
	if f.types == nil {
		return true
	}
	if !f.types[ev.Type()] {
		return false
	}
	if md, ok := ev.(event.MarketData); ok && len(f.symbols) > 0 {
		return f.symbols[md.Snapshot.Symbol]
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued messages into one frame.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m subscribeMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "SUBSCRIBE":
			c.applyFilters(m)
		case "UNSUBSCRIBE":
			c.swapFilters(clientFilters{})
		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      m.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

func (c *Client) applyFilters(m subscribeMsg) {
	f := clientFilters{types: make(map[event.Type]bool)}
	if len(m.Events) == 0 {
		for _, t := range event.Types() {
			f.types[t] = true
		}
	} else {
		for _, t := range m.Events {
			f.types[event.Type(t)] = true
		}
	}
	if len(m.Symbols) > 0 {
		f.symbols = make(map[string]bool, len(m.Symbols))
		for _, s := range m.Symbols {
			f.symbols[s] = true
		}
	}
	c.swapFilters(f)
}

// swapFilters replaces the filter set under the hub lock so broadcast
// never observes a half-built map.
func (c *Client) swapFilters(f clientFilters) {
	c.hub.mu.Lock()
	c.filters = f
	c.hub.mu.Unlock()
}
