// Package risk implements the pre-trade safety gate. Every order draft is
// evaluated against the configured limits before it may reach the venue:
// a global enable flag, a per-order quantity cap (clamped, not rejected),
// and a daily-loss cap that trips the enable flag one-way until an
// explicit reset.
package risk

import (
	"log"
	"sync"
)

// Limits defines the configurable risk thresholds.
type Limits struct {
	MaxContracts int64   `json:"max_contracts"`  // per-order quantity cap
	MaxDailyLoss float64 `json:"max_daily_loss"` // positive dollar figure
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxContracts: 5,
		MaxDailyLoss: 1500,
	}
}

// Outcome is the result class of a gate evaluation.
type Outcome int

const (
	Allow Outcome = iota
	Clamp
	Reject
)

// Reject reasons. ReasonDisabled covers both manual disables and a
// previously tripped loss limit; ReasonDailyLoss is the trip itself.
const (
	ReasonDisabled  = "trading disabled"
	ReasonDailyLoss = "daily loss limit reached"
)

// Decision is the gate's verdict on one order draft.
type Decision struct {
	Outcome Outcome
	Qty     int64  // quantity to submit (adjusted when Outcome == Clamp)
	Reason  string // set when Outcome == Reject
}

// Gate holds the process-wide risk state. It is evaluated independently
// for every submission; nothing is cached between calls.
type Gate struct {
	mu       sync.Mutex
	limits   Limits
	enabled  bool
	dailyPnL float64
	store    Store // optional, persists enabled flag + daily PnL

	// OnTrip, when set, is called from its own goroutine after a
	// daily-loss trip disables trading.
	OnTrip func(dailyPnL float64)
}

// NewGate creates a gate with the given limits. If store is non-nil, prior
// state is restored from it so a loss-breach disable survives a restart.
func NewGate(limits Limits, store Store) *Gate {
	g := &Gate{limits: limits, enabled: true, store: store}
	if store != nil {
		if st, ok, err := store.Load(); err != nil {
			log.Printf("[risk] load state: %v", err)
		} else if ok {
			g.enabled = st.Enabled
			g.dailyPnL = st.DailyPnL
			log.Printf("[risk] restored state: enabled=%v daily_pnl=%.2f", st.Enabled, st.DailyPnL)
		}
	}
	return g
}

// Evaluate applies the gate rules to a draft quantity, in order:
// enable flag, quantity cap (clamp), daily-loss cap (trip + reject).
func (g *Gate) Evaluate(qty int64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return Decision{Outcome: Reject, Reason: ReasonDisabled}
	}

	out := Allow
	if g.limits.MaxContracts > 0 && qty > g.limits.MaxContracts {
		log.Printf("[risk] clamping order quantity %d to cap %d", qty, g.limits.MaxContracts)
		qty = g.limits.MaxContracts
		out = Clamp
	}

	if g.limits.MaxDailyLoss > 0 && g.dailyPnL < -g.limits.MaxDailyLoss {
		log.Printf("[risk] daily loss limit reached (%.2f), disabling trading", g.dailyPnL)
		g.enabled = false
		g.persistLocked()
		if g.OnTrip != nil {
			go g.OnTrip(g.dailyPnL)
		}
		return Decision{Outcome: Reject, Reason: ReasonDailyLoss}
	}

	return Decision{Outcome: out, Qty: qty}
}

// Enabled reports whether trading is currently allowed.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Enable re-allows trading after a manual disable or a loss-limit trip.
func (g *Gate) Enable() {
	g.mu.Lock()
	g.enabled = true
	g.persistLocked()
	g.mu.Unlock()
	log.Println("[risk] trading enabled")
}

// Disable blocks all further submissions until Enable or ResetDaily.
func (g *Gate) Disable() {
	g.mu.Lock()
	g.enabled = false
	g.persistLocked()
	g.mu.Unlock()
	log.Println("[risk] trading disabled")
}

// ResetDaily zeroes the daily PnL figure and re-enables trading. This is
// the only path that clears a loss-limit trip besides Enable.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	g.dailyPnL = 0
	g.enabled = true
	g.persistLocked()
	g.mu.Unlock()
	log.Println("[risk] daily stats reset")
}

// SetDailyPnL replaces the running daily PnL figure, normally from the
// venue's account snapshot.
func (g *Gate) SetDailyPnL(pnl float64) {
	g.mu.Lock()
	g.dailyPnL = pnl
	g.persistLocked()
	g.mu.Unlock()
}

// DailyPnL returns the running daily PnL figure.
func (g *Gate) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnL
}

// Limits returns the configured limits.
func (g *Gate) Limits() Limits {
	return g.limits
}

func (g *Gate) persistLocked() {
	if g.store == nil {
		return
	}
	if err := g.store.Save(State{Enabled: g.enabled, DailyPnL: g.dailyPnL}); err != nil {
		log.Printf("[risk] persist state: %v", err)
	}
}
