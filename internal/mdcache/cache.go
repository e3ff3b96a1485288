// Package mdcache holds market data for subscribed symbols: the latest
// snapshot per symbol, plus a short ring of recent ticks for history
// queries. Each venue push overwrites the latest entry and appends to the
// ring.
package mdcache

import (
	"sync"

	"tradegate/internal/model"
	"tradegate/internal/ringbuf"
)

// DefaultHistory is the per-symbol tick history capacity.
const DefaultHistory = 256

// Cache stores the latest MarketDataSnapshot and recent history per symbol.
type Cache struct {
	mu      sync.RWMutex
	data    map[string]model.MarketDataSnapshot
	history map[string]*ringbuf.Ring
	histCap int
}

// New creates an empty cache with the default history depth.
func New() *Cache {
	return NewWithHistory(DefaultHistory)
}

// NewWithHistory creates an empty cache keeping up to histCap recent ticks
// per symbol.
func NewWithHistory(histCap int) *Cache {
	return &Cache{
		data:    make(map[string]model.MarketDataSnapshot),
		history: make(map[string]*ringbuf.Ring),
		histCap: histCap,
	}
}

// Put overwrites the snapshot for the symbol and records it in the
// symbol's history ring.
func (c *Cache) Put(snap model.MarketDataSnapshot) {
	c.mu.Lock()
	c.data[snap.Symbol] = snap
	ring, ok := c.history[snap.Symbol]
	if !ok {
		ring = ringbuf.New(c.histCap)
		c.history[snap.Symbol] = ring
	}
	c.mu.Unlock()
	ring.Push(snap)
}

// Get returns the latest snapshot for a symbol.
func (c *Cache) Get(symbol string) (model.MarketDataSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.data[symbol]
	return snap, ok
}

// History returns up to n recent snapshots for a symbol, newest first.
func (c *Cache) History(symbol string, n int) []model.MarketDataSnapshot {
	c.mu.RLock()
	ring, ok := c.history[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return ring.Recent(n)
}

// Symbols returns all symbols with a cached snapshot.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for sym := range c.data {
		out = append(out, sym)
	}
	return out
}
