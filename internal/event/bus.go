package event

import (
	"log"
	"sync"
)

// Bus fans events out to subscribers over buffered channels. If a
// subscriber's channel is full the event is dropped for that subscriber so
// a slow consumer never blocks the publisher or its peers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string, t Type)
}

// Subscription is one observer's registration on the bus.
type Subscription struct {
	name  string
	types map[Type]bool // nil = all types
	ch    chan Event
	bus   *Bus
}

// NewBus creates a Bus with the given per-subscriber buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers an observer for the given event types. With no types
// the subscription receives every event. The name is used for drop logging.
func (b *Bus) Subscribe(name string, types ...Type) *Subscription {
	s := &Subscription{
		name: name,
		ch:   make(chan Event, b.bufSize),
		bus:  b,
	}
	if len(types) > 0 {
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Events returns the subscription's delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// while a publish is in flight; the channel is only closed once the
// in-flight dispatch has finished.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	t := e.Type()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.types != nil && !s.types[t] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			if b.OnDrop != nil {
				b.OnDrop(s.name, t)
			} else {
				log.Printf("[bus] subscriber %q full, dropping %s event", s.name, t)
			}
		}
	}
}

// SubscriberCount returns the number of registered subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
