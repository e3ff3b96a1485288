// Package redis mirrors gateway events onto Redis PubSub so external
// consumers (dashboards, recorders, other services) can follow the
// session without holding a WebSocket to the gateway. Publishing is
// strictly best-effort: a Redis outage never blocks the trading path.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tradegate/internal/event"
)

const defaultLatestTTL = 30 * time.Minute

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// MaxBuffer caps the writes held locally while the circuit is open.
	// Oldest entries are dropped beyond this. Default 10000.
	MaxBuffer int
}

// pendingPublish is one write held back during circuit-open state.
type pendingPublish struct {
	Channel   string
	LatestKey string // empty when there is no latest-value key
	Payload   string
}

// Publisher relays bus events to Redis channels. Market data additionally
// keeps a latest-value key per symbol with a TTL, so late joiners can read
// the current snapshot without waiting for the next tick. Writes go
// through a circuit breaker; while the circuit is open they are buffered
// and flushed when Redis recovers.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []pendingPublish
	maxBuf int
}

// NewPublisher connects to Redis and pings it.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxBuf := cfg.MaxBuffer
	if maxBuf <= 0 {
		maxBuf = 10000
	}

	p := &Publisher{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		maxBuf: maxBuf,
	}
	p.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if to == StateClosed {
			go p.flush()
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// Run drains a bus subscription and publishes every event. Blocks until
// ctx is cancelled or the subscription channel is closed.
func (p *Publisher) Run(ctx context.Context, sub *event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(event.Payload(ev))
	if err != nil {
		log.Printf("[redis] marshal %s: %v", ev.Type(), err)
		return
	}
	payload := string(data)

	var channel, latestKey string
	switch e := ev.(type) {
	case event.MarketData:
		channel = "pub:md:" + e.Snapshot.Symbol
		latestKey = "md:latest:" + e.Snapshot.Symbol
	case event.OrderUpdate:
		channel = "pub:orders"
	case event.PositionUpdate:
		channel = "pub:positions"
	case event.ConnectionStatus:
		channel = "pub:status"
	default:
		return
	}

	p.write(ctx, pendingPublish{Channel: channel, LatestKey: latestKey, Payload: payload})
}

func (p *Publisher) write(ctx context.Context, w pendingPublish) {
	err := p.cb.Execute(func() error {
		pipe := p.client.Pipeline()
		if w.LatestKey != "" {
			pipe.Set(ctx, w.LatestKey, w.Payload, defaultLatestTTL)
		}
		pipe.Publish(ctx, w.Channel, w.Payload)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err == ErrCircuitOpen {
		p.bufferWrite(w)
		return
	}
	if err != nil {
		log.Printf("[redis] publish %s: %v", w.Channel, err)
	}
}

func (p *Publisher) bufferWrite(w pendingPublish) {
	p.mu.Lock()
	if len(p.buffer) >= p.maxBuf {
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, w)
	p.mu.Unlock()
}

// flush replays buffered writes after the circuit closes.
func (p *Publisher) flush() {
	p.mu.Lock()
	pending := p.buffer
	p.buffer = nil
	p.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipe := p.client.Pipeline()
	for _, w := range pending {
		if w.LatestKey != "" {
			pipe.Set(ctx, w.LatestKey, w.Payload, defaultLatestTTL)
		}
		pipe.Publish(ctx, w.Channel, w.Payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] flush of %d buffered writes failed: %v", len(pending), err)
		return
	}
	log.Printf("[redis] flushed %d buffered writes", len(pending))
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
