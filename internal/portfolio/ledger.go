// Package portfolio tracks positions and P&L.
//
// The Ledger holds one entry per symbol. It is replaced wholesale by venue
// reconciliation when connected and advanced locally by fill events in
// between, so queries always answer from the last known state even while
// disconnected.
package portfolio

import (
	"sync"

	"tradegate/internal/model"
)

// Ledger tracks the net position per symbol.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*model.Position)}
}

// ReplaceAll swaps the ledger contents for an authoritative venue
// snapshot. Entries not present in the snapshot are dropped, not merged.
func (l *Ledger) ReplaceAll(positions []model.Position) {
	next := make(map[string]*model.Position, len(positions))
	for _, p := range positions {
		cp := p
		next[p.Symbol] = &cp
	}
	l.mu.Lock()
	l.positions = next
	l.mu.Unlock()
}

// Get returns a copy of the position for a symbol.
func (l *Ledger) Get(symbol string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[symbol]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Snapshot returns copies of all positions.
func (l *Ledger) Snapshot() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// Symbols returns the symbols with a ledger entry, flat or not.
func (l *Ledger) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	return out
}

// ApplyFill advances the position for a local fill. Buys add quantity,
// sells subtract; fills against an existing position realize P&L on the
// closed quantity at weighted-average cost. A fill that crosses through
// flat opens the residual on the other side at the fill price.
func (l *Ledger) ApplyFill(symbol string, side model.Side, qty int64, price float64) model.Position {
	delta := qty
	if side == model.SideSell {
		delta = -qty
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[symbol]
	if !ok {
		p = &model.Position{Symbol: symbol}
		l.positions[symbol] = p
	}

	switch {
	case p.Qty == 0 || sameSign(p.Qty, delta):
		// Opening or adding: weighted-average entry price.
		total := p.Qty + delta
		p.AvgPrice = (p.AvgPrice*abs64f(p.Qty) + price*abs64f(delta)) / abs64f(total)
		p.Qty = total
	default:
		// Reducing: realize P&L on the closed quantity.
		closed := min64(abs64(delta), abs64(p.Qty))
		if p.Qty > 0 {
			p.RealizedPnL += (price - p.AvgPrice) * float64(closed)
		} else {
			p.RealizedPnL += (p.AvgPrice - price) * float64(closed)
		}
		p.Qty += delta
		if p.Qty == 0 {
			p.AvgPrice = 0
			p.UnrealizedPnL = 0
		} else if !sameSign(p.Qty-delta, p.Qty) {
			// Crossed through flat: residual opens at the fill price.
			p.AvgPrice = price
		}
	}
	return *p
}

// MarkPrice refreshes unrealized P&L for a symbol from the latest trade
// price. Returns false when the symbol has no position.
func (l *Ledger) MarkPrice(symbol string, last float64) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok || p.Qty == 0 {
		return model.Position{}, false
	}
	p.UnrealizedPnL = (last - p.AvgPrice) * float64(p.Qty)
	return *p, true
}

// TotalUnrealizedPnL sums unrealized P&L across all positions.
func (l *Ledger) TotalUnrealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += p.UnrealizedPnL
	}
	return total
}

// TotalRealizedPnL sums realized P&L across all positions.
func (l *Ledger) TotalRealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, p := range l.positions {
		total += p.RealizedPnL
	}
	return total
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func abs64f(v int64) float64 {
	return float64(abs64(v))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
