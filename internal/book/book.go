// Package book maintains the in-memory order book: every order the
// gateway has submitted this session, keyed by venue order ID, with its
// lifecycle state. Orders are mutated only through the methods here so the
// PENDING → SUBMITTED → {FILLED | PARTIALLY_FILLED | CANCELLED | REJECTED}
// machine and the filled ≤ quantity invariant hold at every step.
package book

import (
	"errors"
	"sync"
	"time"

	"tradegate/internal/model"
)

var (
	ErrUnknownOrder = errors.New("order not found")
	ErrNotOpen      = errors.New("order is not open")
	ErrInvalidFill  = errors.New("fill exceeds remaining quantity")
)

// Book is the session-scoped order store.
type Book struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
}

// New creates an empty order book.
func New() *Book {
	return &Book{orders: make(map[string]*model.Order)}
}

// Add records a new order. An existing entry with the same ID is replaced;
// venue IDs are unique per session.
func (b *Book) Add(o model.Order) {
	b.mu.Lock()
	cp := o
	b.orders[o.OrderID] = &cp
	b.mu.Unlock()
}

// Get returns a copy of the order with the given ID.
func (b *Book) Get(id string) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// Open returns copies of all orders still resting with the venue
// (PENDING, SUBMITTED, or PARTIALLY_FILLED).
func (b *Book) Open() []model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if o.Status.Open() {
			out = append(out, *o)
		}
	}
	return out
}

// All returns copies of every order in the book.
func (b *Book) All() []model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out
}

// MarkCancelled transitions the order to CANCELLED. Orders that are not
// open (already filled, rejected, or cancelled) are left untouched and
// ErrNotOpen is returned.
func (b *Book) MarkCancelled(id string) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	if !o.Status.Open() {
		return *o, ErrNotOpen
	}
	o.Status = model.StatusCancelled
	o.UpdatedAt = time.Now()
	return *o, nil
}

// CancelOpen marks every open order CANCELLED and returns the updated
// copies. Terminal orders are untouched.
func (b *Book) CancelOpen() []model.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []model.Order
	for _, o := range b.orders {
		if !o.Status.Open() {
			continue
		}
		o.Status = model.StatusCancelled
		o.UpdatedAt = now
		out = append(out, *o)
	}
	return out
}

// MarkRejected transitions the order to the terminal REJECTED state.
func (b *Book) MarkRejected(id string) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	if o.Status.Terminal() {
		return *o, ErrNotOpen
	}
	o.Status = model.StatusRejected
	o.UpdatedAt = time.Now()
	return *o, nil
}

// ApplyFill consumes fill quantity against an open order, updating the
// filled quantity, the running average fill price, and the status
// (PARTIALLY_FILLED until the order is fully consumed, then FILLED).
func (b *Book) ApplyFill(id string, qty int64, price float64) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return model.Order{}, ErrUnknownOrder
	}
	if !o.Status.Open() {
		return *o, ErrNotOpen
	}
	if qty <= 0 || o.FilledQty+qty > o.Quantity {
		return *o, ErrInvalidFill
	}

	total := o.FilledQty + qty
	o.AvgFillPrice = (o.AvgFillPrice*float64(o.FilledQty) + price*float64(qty)) / float64(total)
	o.FilledQty = total
	if total == o.Quantity {
		o.Status = model.StatusFilled
	} else {
		o.Status = model.StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()
	return *o, nil
}
