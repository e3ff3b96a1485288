// Package engine contains the execution coordinator: the single owner of
// order, position, risk, and market data state. Commands come in from the
// transport layer, pass the risk gate, go out to the broker link, and the
// resulting state changes fan out on the event bus. Venue pushes (market
// data and fills) enter through the push pump and follow the same
// mutate-then-publish path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tradegate/internal/book"
	"tradegate/internal/broker"
	"tradegate/internal/event"
	"tradegate/internal/metrics"
	"tradegate/internal/model"
	"tradegate/internal/risk"
)

// Config tunes the engine.
type Config struct {
	// HeartbeatInterval is the period of the connection liveness task.
	HeartbeatInterval time.Duration

	Metrics *metrics.Metrics      // optional
	Health  *metrics.HealthStatus // optional

	// OnEmergencyStop, when set, is called after an emergency stop with
	// the combined cleanup error (nil when cleanup was clean).
	OnEmergencyStop func(error)
}

// Engine is the execution coordinator.
type Engine struct {
	cfg  Config
	link broker.Link
	gate *risk.Gate
	bus  *event.Bus
	st   *State

	mu         sync.Mutex
	connected  bool
	connecting bool
	hbCancel   context.CancelFunc
	pumpDone   chan struct{}

	account   broker.AccountReport
	accountOK bool
}

// New creates an engine around the given broker link, risk gate, event
// bus, and state aggregate.
func New(link broker.Link, gate *risk.Gate, bus *event.Bus, st *State, cfg Config) *Engine {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Engine{
		cfg:  cfg,
		link: link,
		gate: gate,
		bus:  bus,
		st:   st,
	}
}

// Connect establishes the venue session, starts the push pump and the
// liveness task, and publishes a connection-status event. On failure the
// engine stays disconnected and the cause is returned; queries keep
// answering from cache. The handshake runs outside the state lock so a
// slow venue never blocks Connected or the trading operations behind it.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.connected || e.connecting {
		e.mu.Unlock()
		return nil
	}
	e.connecting = true
	e.mu.Unlock()

	err := e.link.Connect(ctx)

	e.mu.Lock()
	e.connecting = false
	if err != nil {
		e.mu.Unlock()
		log.Printf("[engine] connect failed: %v", err)
		e.bus.Publish(event.ConnectionStatus{Connected: false, Error: err.Error()})
		e.setConnectedGauge(false)
		return fmt.Errorf("%w: %v", ErrVenue, err)
	}

	e.connected = true
	e.pumpDone = make(chan struct{})
	pumpDone := e.pumpDone
	hbCtx, cancel := context.WithCancel(context.Background())
	e.hbCancel = cancel
	e.mu.Unlock()

	go e.pump(e.link.Pushes(), pumpDone)
	go e.heartbeat(hbCtx)

	e.setConnectedGauge(true)
	e.bus.Publish(event.ConnectionStatus{Connected: true})
	log.Println("[engine] venue session established")
	return nil
}

// Disconnect tears down the session. The order book and position ledger
// keep their last-known state; nothing in flight is speculatively cleaned
// up.
func (e *Engine) Disconnect(ctx context.Context) {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	e.hbCancel()
	pumpDone := e.pumpDone
	e.mu.Unlock()

	if err := e.link.Disconnect(ctx); err != nil {
		log.Printf("[engine] disconnect: %v", err)
	}
	<-pumpDone

	e.setConnectedGauge(false)
	e.bus.Publish(event.ConnectionStatus{Connected: false})
	log.Println("[engine] venue session closed")
}

// Connected reports whether the venue session is up.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// SubscribeMarketData starts venue market data delivery for a symbol.
func (e *Engine) SubscribeMarketData(ctx context.Context, symbol string) error {
	if !e.Connected() {
		return ErrNotConnected
	}
	if err := e.link.Subscribe(ctx, symbol); err != nil {
		e.countVenueError("subscribe")
		return fmt.Errorf("%w: subscribe %s: %v", ErrVenue, symbol, err)
	}
	log.Printf("[engine] subscribed to market data for %s", symbol)
	return nil
}

// PlaceOrder validates the draft, runs the risk gate, submits to the
// venue, and records the order. Gate rejects surface as ErrTradingDisabled
// (checkable, distinct from ErrNotConnected); venue failures are
// downgraded to ErrOrderRejected with the cause logged. A clamped
// quantity proceeds silently.
func (e *Engine) PlaceOrder(ctx context.Context, draft model.Draft) (*model.Order, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if !e.Connected() {
		return nil, ErrNotConnected
	}

	decision := e.gate.Evaluate(draft.Quantity)
	switch decision.Outcome {
	case risk.Reject:
		log.Printf("[engine] order rejected by risk gate: %s", decision.Reason)
		e.countRejected(decision.Reason)
		e.setEnabledGauge(e.gate.Enabled())
		return nil, fmt.Errorf("%w: %s", ErrTradingDisabled, decision.Reason)
	case risk.Clamp:
		draft.Quantity = decision.Qty
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.OrdersClamped.Inc()
		}
	}

	log.Printf("[engine] placing %s order: %dx %s @ %s",
		draft.Side, draft.Quantity, draft.Symbol, draft.Kind)

	start := time.Now()
	ack, err := e.link.SubmitOrder(ctx, broker.OrderSpec{
		Symbol:    draft.Symbol,
		Side:      draft.Side,
		Quantity:  draft.Quantity,
		Kind:      draft.Kind,
		Price:     draft.Price,
		StopPrice: draft.StopPrice,
	})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SubmitDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Printf("[engine] venue submit failed: %v", err)
		e.countVenueError("submit")
		return nil, ErrOrderRejected
	}
	if ack.Status == broker.AckRejected {
		log.Printf("[engine] venue rejected order for %s", draft.Symbol)
		e.countRejected("venue")
		return nil, ErrOrderRejected
	}

	now := time.Now()
	order := model.Order{
		OrderID:   ack.OrderID,
		Symbol:    draft.Symbol,
		Side:      draft.Side,
		Quantity:  draft.Quantity,
		Kind:      draft.Kind,
		Price:     draft.Price,
		StopPrice: draft.StopPrice,
		Status:    model.StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.OrderID == "" {
		order.OrderID = fmt.Sprintf("ORD-%d", now.UnixNano())
	}
	if ack.Status == broker.AckQueued {
		order.Status = model.StatusPending
	}

	e.st.Book.Add(order)
	e.bus.Publish(event.OrderUpdate{Order: order})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.OrdersSubmitted.WithLabelValues(string(order.Side)).Inc()
	}
	log.Printf("[engine] order placed: %s", order.OrderID)
	return &order, nil
}

// CancelOrder best-effort cancels one order. Orders already terminal
// report failure and are left unchanged.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if !e.Connected() {
		return ErrNotConnected
	}
	o, ok := e.st.Book.Get(orderID)
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, book.ErrUnknownOrder)
	}
	if !o.Status.Open() {
		return fmt.Errorf("order %s is %s: %w", orderID, o.Status, book.ErrNotOpen)
	}

	if err := e.link.CancelOrder(ctx, orderID); err != nil {
		log.Printf("[engine] venue cancel failed for %s: %v", orderID, err)
		e.countVenueError("cancel")
		return fmt.Errorf("%w: cancel %s", ErrVenue, orderID)
	}

	updated, err := e.st.Book.MarkCancelled(orderID)
	if err != nil {
		return err
	}
	e.bus.Publish(event.OrderUpdate{Order: updated})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.OrdersCancelled.Inc()
	}
	log.Printf("[engine] order cancelled: %s", orderID)
	return nil
}

// CancelAllOrders best-effort cancels every open order at the venue, then
// marks the matching book entries CANCELLED.
func (e *Engine) CancelAllOrders(ctx context.Context) error {
	if !e.Connected() {
		return ErrNotConnected
	}
	if err := e.link.CancelAllOrders(ctx); err != nil {
		log.Printf("[engine] venue cancel-all failed: %v", err)
		e.countVenueError("cancel_all")
		return fmt.Errorf("%w: cancel all", ErrVenue)
	}

	updated := e.st.Book.CancelOpen()
	for _, o := range updated {
		e.bus.Publish(event.OrderUpdate{Order: o})
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.OrdersCancelled.Add(float64(len(updated)))
	}
	log.Printf("[engine] cancelled %d open orders", len(updated))
	return nil
}

// Order returns one order from the book.
func (e *Engine) Order(id string) (model.Order, bool) {
	return e.st.Book.Get(id)
}

// OpenOrders returns all orders still resting with the venue.
func (e *Engine) OpenOrders() []model.Order {
	return e.st.Book.Open()
}

// Positions returns current positions. When connected the ledger is
// replaced wholesale by the venue's answer; when disconnected, or when
// the venue query fails, the last known snapshot is returned instead.
func (e *Engine) Positions(ctx context.Context) []model.Position {
	if e.Connected() {
		reports, err := e.link.Positions(ctx)
		if err != nil {
			log.Printf("[engine] position query failed, serving cache: %v", err)
			e.countVenueError("positions")
			return e.st.Ledger.Snapshot()
		}
		e.st.Ledger.ReplaceAll(reports)
	}
	return e.st.Ledger.Snapshot()
}

// ClosePosition flattens one symbol with a market order through the full
// placement path (risk gate included). A flat or unknown symbol is a
// no-op success.
func (e *Engine) ClosePosition(ctx context.Context, symbol string) error {
	pos, ok := e.st.Ledger.Get(symbol)
	if !ok || pos.Flat() {
		return nil
	}
	_, err := e.PlaceOrder(ctx, model.Draft{
		Symbol:   symbol,
		Side:     pos.ClosingSide(),
		Quantity: pos.AbsQty(),
		Kind:     model.KindMarket,
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", symbol, err)
	}
	return nil
}

// CloseAllPositions attempts to flatten every known symbol. Every symbol
// is attempted even when an earlier one fails; the combined error is the
// logical AND of the attempts.
func (e *Engine) CloseAllPositions(ctx context.Context) error {
	var errs []error
	for _, symbol := range e.st.Ledger.Symbols() {
		if err := e.ClosePosition(ctx, symbol); err != nil {
			log.Printf("[engine] %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AccountInfo returns the account snapshot, rebuilt from the venue when
// connected and served from the last known copy otherwise. The venue's
// daily PnL figure feeds the risk gate.
func (e *Engine) AccountInfo(ctx context.Context) (model.AccountInfo, error) {
	if e.Connected() {
		rep, err := e.link.AccountInfo(ctx)
		if err != nil {
			log.Printf("[engine] account query failed, serving cache: %v", err)
			e.countVenueError("account")
		} else {
			e.mu.Lock()
			e.account = rep
			e.accountOK = true
			e.mu.Unlock()
			e.gate.SetDailyPnL(rep.DailyPnL)
		}
	}

	e.mu.Lock()
	rep, ok := e.account, e.accountOK
	e.mu.Unlock()
	if !ok {
		return model.AccountInfo{}, ErrNotConnected
	}
	return model.AccountInfo{
		AccountID:     rep.AccountID,
		Balance:       rep.Balance,
		BuyingPower:   rep.BuyingPower,
		DailyPnL:      rep.DailyPnL,
		UnrealizedPnL: rep.UnrealizedPnL,
		RealizedPnL:   rep.RealizedPnL,
		Positions:     e.Positions(ctx),
	}, nil
}

// ExecuteSignal runs a composite strategy instruction. LONG and SHORT
// enter with a market order and, if a stop loss is given and the entry
// succeeded, place a protective stop through the same placement path.
// EXIT flattens the symbol and cancels all open orders.
func (e *Engine) ExecuteSignal(ctx context.Context, sig model.Signal) error {
	if !sig.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSignal, sig.Type)
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
	}
	log.Printf("[engine] executing signal: %s %s x%d", sig.Type, sig.Symbol, sig.Contracts)

	switch sig.Type {
	case model.SignalLong, model.SignalShort:
		side := model.SideBuy
		if sig.Type == model.SignalShort {
			side = model.SideSell
		}
		entry, err := e.PlaceOrder(ctx, model.Draft{
			Symbol:   sig.Symbol,
			Side:     side,
			Quantity: sig.Contracts,
			Kind:     model.KindMarket,
		})
		if err != nil {
			return err
		}
		if sig.StopLoss > 0 && entry != nil {
			if _, err := e.PlaceOrder(ctx, model.Draft{
				Symbol:    sig.Symbol,
				Side:      side.Opposite(),
				Quantity:  sig.Contracts,
				Kind:      model.KindStop,
				StopPrice: sig.StopLoss,
			}); err != nil {
				log.Printf("[engine] protective stop failed for %s: %v", sig.Symbol, err)
			}
		}
		return nil

	case model.SignalExit:
		err := e.ClosePosition(ctx, sig.Symbol)
		if cerr := e.CancelAllOrders(ctx); cerr != nil {
			log.Printf("[engine] exit cleanup: %v", cerr)
		}
		return err
	}
	return nil
}

// EmergencyStop disables trading, then best-effort cancels all orders,
// then best-effort closes all positions, in that fixed order. The result
// is the logical AND of the two best-effort steps.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	log.Println("[engine] EMERGENCY STOP")
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.EmergencyStops.Inc()
	}
	e.DisableTrading()

	cancelErr := e.CancelAllOrders(ctx)
	if cancelErr != nil {
		log.Printf("[engine] emergency stop: cancel all: %v", cancelErr)
	}
	closeErr := e.CloseAllPositions(ctx)
	if closeErr != nil {
		log.Printf("[engine] emergency stop: close all: %v", closeErr)
	}

	err := cancelErr
	if err == nil {
		err = closeErr
	}
	if e.cfg.OnEmergencyStop != nil {
		e.cfg.OnEmergencyStop(err)
	}
	return err
}

// EnableTrading re-opens the risk gate.
func (e *Engine) EnableTrading() {
	e.gate.Enable()
	e.setEnabledGauge(true)
}

// DisableTrading closes the risk gate.
func (e *Engine) DisableTrading() {
	e.gate.Disable()
	e.setEnabledGauge(false)
}

// ResetDaily clears the daily PnL figure and re-enables trading.
func (e *Engine) ResetDaily() {
	e.gate.ResetDaily()
	e.setEnabledGauge(true)
}

// TradingEnabled reports the risk gate flag.
func (e *Engine) TradingEnabled() bool {
	return e.gate.Enabled()
}

// MarketData returns the cached snapshot for a symbol.
func (e *Engine) MarketData(symbol string) (model.MarketDataSnapshot, bool) {
	return e.st.Market.Get(symbol)
}

// MarketDataHistory returns up to n recent ticks for a symbol, newest
// first.
func (e *Engine) MarketDataHistory(symbol string, n int) []model.MarketDataSnapshot {
	return e.st.Market.History(symbol, n)
}

// Status is the condensed system view served by the transport layer.
type Status struct {
	Connected      bool    `json:"connected"`
	TradingEnabled bool    `json:"trading_enabled"`
	AccountID      string  `json:"account_id"`
	Balance        float64 `json:"balance"`
	DailyPnL       float64 `json:"daily_pnl"`
	Positions      int     `json:"positions"`
	OpenOrders     int     `json:"open_orders"`
}

// Status reports the condensed system view.
func (e *Engine) Status(ctx context.Context) Status {
	acct, _ := e.AccountInfo(ctx)
	return Status{
		Connected:      e.Connected(),
		TradingEnabled: e.gate.Enabled(),
		AccountID:      acct.AccountID,
		Balance:        acct.Balance,
		DailyPnL:       e.gate.DailyPnL(),
		Positions:      len(e.st.Ledger.Snapshot()),
		OpenOrders:     len(e.st.Book.Open()),
	}
}

// OnMarketData translates a venue push into a snapshot, overwrites the
// cache entry, marks open positions, and publishes a market-data event.
// It never panics past this boundary; the venue delivery loop must not be
// broken by a bad payload.
func (e *Engine) OnMarketData(p broker.MarketDataPush) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] market data handler panic: %v", r)
		}
	}()

	snap := model.MarketDataSnapshot{
		Symbol:    p.Symbol,
		LastPrice: p.LastPrice,
		Bid:       p.Bid,
		Ask:       p.Ask,
		BidSize:   p.BidSize,
		AskSize:   p.AskSize,
		Volume:    p.Volume,
		High:      p.High,
		Low:       p.Low,
		Open:      p.Open,
		Timestamp: time.Now(),
	}
	e.st.Market.Put(snap)

	if pos, ok := e.st.Ledger.MarkPrice(p.Symbol, p.LastPrice); ok {
		e.bus.Publish(event.PositionUpdate{Position: pos})
	}

	e.bus.Publish(event.MarketData{Snapshot: snap})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.MarketDataUpdates.Inc()
	}
	if e.cfg.Health != nil {
		e.cfg.Health.SetLastMarketData(snap.Timestamp)
	}
}

// onFill advances the order book and the ledger for a venue execution
// report and publishes the resulting order and position events. The
// running daily PnL estimate feeds the risk gate between account syncs.
func (e *Engine) onFill(f broker.FillPush) {
	if updated, err := e.st.Book.ApplyFill(f.OrderID, f.Qty, f.Price); err != nil {
		log.Printf("[engine] fill for %s not applied to book: %v", f.OrderID, err)
	} else {
		e.bus.Publish(event.OrderUpdate{Order: updated})
	}

	pos := e.st.Ledger.ApplyFill(f.Symbol, f.Side, f.Qty, f.Price)
	e.bus.Publish(event.PositionUpdate{Position: pos})

	e.gate.SetDailyPnL(e.st.Ledger.TotalRealizedPnL() + e.st.Ledger.TotalUnrealizedPnL())
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.FillsTotal.Inc()
	}
}

// pump drains venue pushes until the link closes the channel on
// disconnect.
func (e *Engine) pump(pushes <-chan broker.Push, done chan struct{}) {
	defer close(done)
	for p := range pushes {
		switch {
		case p.MarketData != nil:
			e.OnMarketData(*p.MarketData)
		case p.Fill != nil:
			e.onFill(*p.Fill)
		}
	}
}

// heartbeat is the connection liveness task. It mutates nothing beyond
// its own lifecycle and the health timestamp.
func (e *Engine) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.cfg.Health != nil {
				e.cfg.Health.SetLastHeartbeat(time.Now())
			}
		}
	}
}

func (e *Engine) countVenueError(op string) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.VenueErrors.WithLabelValues(op).Inc()
	}
}

func (e *Engine) countRejected(reason string) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.OrdersRejected.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) setConnectedGauge(up bool) {
	if e.cfg.Health != nil {
		e.cfg.Health.SetConnected(up)
	}
	if e.cfg.Metrics == nil {
		return
	}
	if up {
		e.cfg.Metrics.Connected.Set(1)
	} else {
		e.cfg.Metrics.Connected.Set(0)
	}
}

func (e *Engine) setEnabledGauge(enabled bool) {
	if e.cfg.Health != nil {
		e.cfg.Health.SetTradingEnabled(enabled)
	}
	if e.cfg.Metrics == nil {
		return
	}
	if enabled {
		e.cfg.Metrics.TradingEnabled.Set(1)
	} else {
		e.cfg.Metrics.TradingEnabled.Set(0)
	}
}
