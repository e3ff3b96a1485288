package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"tradegate/internal/model"
)

var errSimDisconnected = errors.New("sim venue: not connected")

// SimConfig tunes the simulated venue.
type SimConfig struct {
	AccountID   string
	Balance     float64
	SlippageBps int64 // simulated market-order slippage in basis points
	PushBuffer  int
}

// Sim is an in-process venue used for paper trading and local runs. Market
// orders fill immediately at the last pushed price (plus slippage); other
// kinds rest until cancelled. Fills and ticks are delivered on the push
// channel like a real venue would.
type Sim struct {
	cfg SimConfig

	mu        sync.Mutex
	connected bool
	seq       int64
	last      map[string]float64 // symbol -> last trade price
	positions map[string]*model.Position
	pushCh    chan Push
}

// NewSim creates a simulated venue.
func NewSim(cfg SimConfig) *Sim {
	if cfg.AccountID == "" {
		cfg.AccountID = "SIM-ACCOUNT"
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = 1024
	}
	return &Sim{
		cfg:       cfg,
		last:      make(map[string]float64),
		positions: make(map[string]*model.Position),
	}
}

func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	s.pushCh = make(chan Push, s.cfg.PushBuffer)
	log.Println("[sim] venue connected")
	return nil
}

func (s *Sim) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	close(s.pushCh)
	log.Println("[sim] venue disconnected")
	return nil
}

func (s *Sim) Subscribe(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errSimDisconnected
	}
	return nil
}

func (s *Sim) SubmitOrder(ctx context.Context, spec OrderSpec) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return Ack{}, errSimDisconnected
	}

	s.seq++
	id := fmt.Sprintf("SIM-%d", s.seq)

	if spec.Kind == model.KindMarket {
		price := s.last[spec.Symbol]
		if price == 0 {
			price = spec.Price
		}
		if price > 0 {
			if s.cfg.SlippageBps > 0 {
				slip := price * float64(s.cfg.SlippageBps) / 10000
				if spec.Side == model.SideBuy {
					price += slip
				} else {
					price -= slip
				}
			}
			s.applyFillLocked(spec.Symbol, spec.Side, spec.Quantity, price)
			s.emitLocked(Push{Fill: &FillPush{
				OrderID: id,
				Symbol:  spec.Symbol,
				Side:    spec.Side,
				Qty:     spec.Quantity,
				Price:   price,
			}})
		}
	}

	return Ack{OrderID: id, Status: AckAccepted}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errSimDisconnected
	}
	return nil
}

func (s *Sim) CancelAllOrders(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errSimDisconnected
	}
	return nil
}

func (s *Sim) Positions(ctx context.Context) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errSimDisconnected
	}
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.Qty != 0 {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Sim) AccountInfo(ctx context.Context) (AccountReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return AccountReport{}, errSimDisconnected
	}
	var unrealized, realized float64
	for _, p := range s.positions {
		unrealized += p.UnrealizedPnL
		realized += p.RealizedPnL
	}
	return AccountReport{
		AccountID:     s.cfg.AccountID,
		Balance:       s.cfg.Balance + realized,
		BuyingPower:   s.cfg.Balance + realized,
		DailyPnL:      realized + unrealized,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
	}, nil
}

func (s *Sim) Pushes() <-chan Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushCh
}

// PushTick injects a trade tick: updates the simulated last price, marks
// open positions, and emits a market data push. Used by the paper binary's
// price driver and by tests.
func (s *Sim) PushTick(symbol string, price float64, volume int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.last[symbol] = price
	if p, ok := s.positions[symbol]; ok && p.Qty != 0 {
		p.UnrealizedPnL = (price - p.AvgPrice) * float64(p.Qty)
	}
	s.emitLocked(Push{MarketData: &MarketDataPush{
		Symbol:    symbol,
		LastPrice: price,
		Bid:       price - 0.25,
		Ask:       price + 0.25,
		BidSize:   10,
		AskSize:   10,
		Volume:    volume,
		High:      price,
		Low:       price,
		Open:      price,
	}})
}

func (s *Sim) applyFillLocked(symbol string, side model.Side, qty int64, price float64) {
	p, ok := s.positions[symbol]
	if !ok {
		p = &model.Position{Symbol: symbol}
		s.positions[symbol] = p
	}
	delta := qty
	if side == model.SideSell {
		delta = -qty
	}
	if p.Qty == 0 || (p.Qty > 0) == (delta > 0) {
		total := p.Qty + delta
		p.AvgPrice = (p.AvgPrice*float64(absInt(p.Qty)) + price*float64(absInt(delta))) / float64(absInt(total))
		p.Qty = total
	} else {
		closed := absInt(delta)
		if absInt(p.Qty) < closed {
			closed = absInt(p.Qty)
		}
		if p.Qty > 0 {
			p.RealizedPnL += (price - p.AvgPrice) * float64(closed)
		} else {
			p.RealizedPnL += (p.AvgPrice - price) * float64(closed)
		}
		p.Qty += delta
		if p.Qty == 0 {
			p.AvgPrice = 0
			p.UnrealizedPnL = 0
		}
	}
}

func (s *Sim) emitLocked(p Push) {
	select {
	case s.pushCh <- p:
	default:
		log.Println("[sim] push channel full, dropping event")
	}
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
