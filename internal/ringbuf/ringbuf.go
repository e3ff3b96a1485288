// Package ringbuf provides a fixed-capacity overwriting ring buffer for
// market data snapshots. Writers never block: once full, the oldest entry
// is dropped. It backs the per-symbol tick history kept by the market
// data cache.
package ringbuf

import (
	"sync"

	"tradegate/internal/model"
)

// Ring is a bounded snapshot history. Capacity is rounded up to the next
// power of two so the index math stays a bitwise mask.
type Ring struct {
	mu   sync.RWMutex
	buf  []model.MarketDataSnapshot
	mask uint64
	head uint64 // total writes; next slot is head&mask
}

// New creates a ring buffer. Minimum capacity is 2.
func New(capacity int) *Ring {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring{
		buf:  make([]model.MarketDataSnapshot, c),
		mask: uint64(c - 1),
	}
}

// Push appends a snapshot, overwriting the oldest entry when full.
func (r *Ring) Push(snap model.MarketDataSnapshot) {
	r.mu.Lock()
	r.buf[r.head&r.mask] = snap
	r.head++
	r.mu.Unlock()
}

// Recent returns up to n snapshots, newest first.
func (r *Ring) Recent(n int) []model.MarketDataSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	avail := r.head
	if avail > uint64(len(r.buf)) {
		avail = uint64(len(r.buf))
	}
	if uint64(n) < avail {
		avail = uint64(n)
	}
	out := make([]model.MarketDataSnapshot, 0, avail)
	for i := uint64(1); i <= avail; i++ {
		out = append(out, r.buf[(r.head-i)&r.mask])
	}
	return out
}

// Len returns the number of stored snapshots.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.head > uint64(len(r.buf)) {
		return len(r.buf)
	}
	return int(r.head)
}

// Cap returns the buffer capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
