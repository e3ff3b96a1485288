package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradegate/internal/broker"
	"tradegate/internal/event"
	"tradegate/internal/model"
	"tradegate/internal/risk"
)

// mockLink is a scripted venue for engine tests.
type mockLink struct {
	mu sync.Mutex

	connectErr     error
	connectStarted chan struct{} // closed when the handshake begins
	connectGate    chan struct{} // handshake blocks until closed
	pushCh         chan broker.Push

	submits   []broker.OrderSpec
	submitErr func(spec broker.OrderSpec) error
	ackStatus broker.AckStatus

	cancelled      []string
	cancelErr      error
	cancelAllCalls int
	cancelAllErr   error

	positions    []model.Position
	positionsErr error
	account      broker.AccountReport
	accountErr   error
	subscribed   []string
}

func newMockLink() *mockLink {
	return &mockLink{ackStatus: broker.AckAccepted}
}

func (m *mockLink) Connect(ctx context.Context) error {
	if m.connectStarted != nil {
		close(m.connectStarted)
	}
	if m.connectGate != nil {
		<-m.connectGate
	}
	if m.connectErr != nil {
		return m.connectErr
	}
	m.mu.Lock()
	m.pushCh = make(chan broker.Push, 64)
	m.mu.Unlock()
	return nil
}

func (m *mockLink) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushCh != nil {
		close(m.pushCh)
		m.pushCh = nil
	}
	return nil
}

func (m *mockLink) Subscribe(ctx context.Context, symbol string) error {
	m.mu.Lock()
	m.subscribed = append(m.subscribed, symbol)
	m.mu.Unlock()
	return nil
}

func (m *mockLink) SubmitOrder(ctx context.Context, spec broker.OrderSpec) (broker.Ack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		if err := m.submitErr(spec); err != nil {
			return broker.Ack{}, err
		}
	}
	m.submits = append(m.submits, spec)
	return broker.Ack{
		OrderID: fmt.Sprintf("V-%d", len(m.submits)),
		Status:  m.ackStatus,
	}, nil
}

func (m *mockLink) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

func (m *mockLink) CancelAllOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAllCalls++
	return m.cancelAllErr
}

func (m *mockLink) Positions(ctx context.Context) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	return append([]model.Position(nil), m.positions...), nil
}

func (m *mockLink) AccountInfo(ctx context.Context) (broker.AccountReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountErr != nil {
		return broker.AccountReport{}, m.accountErr
	}
	return m.account, nil
}

func (m *mockLink) Pushes() <-chan broker.Push {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushCh
}

func (m *mockLink) submitted() []broker.OrderSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.OrderSpec(nil), m.submits...)
}

func newTestEngine(link broker.Link) (*Engine, *event.Bus) {
	bus := event.NewBus(64)
	gate := risk.NewGate(risk.Limits{MaxContracts: 5, MaxDailyLoss: 1500}, nil)
	return New(link, gate, bus, NewState(), Config{}), bus
}

func connect(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func marketDraft(qty int64) model.Draft {
	return model.Draft{Symbol: "MNQ", Side: model.SideBuy, Quantity: qty, Kind: model.KindMarket}
}

func recvEvent(t *testing.T, sub *event.Subscription) event.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPlaceOrderRequiresConnection(t *testing.T) {
	e, _ := newTestEngine(newMockLink())
	_, err := e.PlaceOrder(context.Background(), marketDraft(1))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPlaceOrderValidationPropagates(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	_, err := e.PlaceOrder(context.Background(), model.Draft{
		Symbol: "MNQ", Side: model.SideBuy, Quantity: 1, Kind: model.KindLimit,
	})
	if !errors.Is(err, model.ErrNeedPrice) {
		t.Fatalf("expected ErrNeedPrice, got %v", err)
	}
	if len(link.submitted()) != 0 {
		t.Error("invalid draft must not reach the venue")
	}
}

func TestPlaceOrderClampsToCap(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	order, err := e.PlaceOrder(context.Background(), marketDraft(10))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Quantity != 5 {
		t.Errorf("expected clamped quantity 5, got %d", order.Quantity)
	}
	if order.Status != model.StatusSubmitted {
		t.Errorf("expected SUBMITTED, got %s", order.Status)
	}
	subs := link.submitted()
	if len(subs) != 1 || subs[0].Quantity != 5 {
		t.Errorf("venue must see the clamped quantity: %+v", subs)
	}
}

func TestPlaceOrderDisabledIsNotNotConnected(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	e.DisableTrading()

	_, err := e.PlaceOrder(context.Background(), marketDraft(1))
	if !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("expected ErrTradingDisabled, got %v", err)
	}
	if errors.Is(err, ErrNotConnected) {
		t.Error("disabled must be distinguishable from not connected")
	}
	if len(link.submitted()) != 0 {
		t.Error("rejected draft must not reach the venue")
	}
}

func TestPlaceOrderVenueFailureDowngraded(t *testing.T) {
	link := newMockLink()
	link.submitErr = func(broker.OrderSpec) error { return errors.New("socket reset") }
	e, _ := newTestEngine(link)
	connect(t, e)

	_, err := e.PlaceOrder(context.Background(), marketDraft(1))
	if !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
	if len(e.st.Book.All()) != 0 {
		t.Error("failed submission must not be recorded")
	}
}

func TestPlaceOrderVenueAckRejected(t *testing.T) {
	link := newMockLink()
	link.ackStatus = broker.AckRejected
	e, _ := newTestEngine(link)
	connect(t, e)

	if _, err := e.PlaceOrder(context.Background(), marketDraft(1)); !errors.Is(err, ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestPlaceOrderPublishesOrderUpdate(t *testing.T) {
	link := newMockLink()
	e, bus := newTestEngine(link)
	connect(t, e)
	sub := bus.Subscribe("test", event.TypeOrderUpdate)
	defer sub.Close()

	order, err := e.PlaceOrder(context.Background(), marketDraft(2))
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ev := recvEvent(t, sub)
	ou, ok := ev.(event.OrderUpdate)
	if !ok || ou.Order.OrderID != order.OrderID {
		t.Fatalf("expected update for %s, got %#v", order.OrderID, ev)
	}
	if got, ok := e.Order(order.OrderID); !ok || got.Status != model.StatusSubmitted {
		t.Errorf("expected SUBMITTED in book, got %+v ok=%v", got, ok)
	}
}

func TestCancelOrderTerminalFails(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	order, _ := e.PlaceOrder(context.Background(), marketDraft(1))
	if _, err := e.st.Book.ApplyFill(order.OrderID, 1, 18000); err != nil {
		t.Fatalf("fill: %v", err)
	}

	if err := e.CancelOrder(context.Background(), order.OrderID); err == nil {
		t.Fatal("expected cancel of terminal order to fail")
	}
	got, _ := e.Order(order.OrderID)
	if got.Status != model.StatusFilled {
		t.Errorf("terminal order must stay unchanged, got %s", got.Status)
	}
	if len(link.cancelled) != 0 {
		t.Error("terminal cancel must not reach the venue")
	}
}

func TestCancelAllOrdersMarksBook(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	a, _ := e.PlaceOrder(context.Background(), marketDraft(1))
	b, _ := e.PlaceOrder(context.Background(), marketDraft(1))

	if err := e.CancelAllOrders(context.Background()); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	for _, id := range []string{a.OrderID, b.OrderID} {
		if o, _ := e.Order(id); o.Status != model.StatusCancelled {
			t.Errorf("order %s expected CANCELLED, got %s", id, o.Status)
		}
	}
	if link.cancelAllCalls != 1 {
		t.Errorf("expected one venue cancel-all, got %d", link.cancelAllCalls)
	}
}

func TestPositionsRefreshAndCache(t *testing.T) {
	link := newMockLink()
	link.positions = []model.Position{{Symbol: "MNQ", Qty: 2, AvgPrice: 18000}}
	e, _ := newTestEngine(link)
	ctx := context.Background()
	connect(t, e)

	got := e.Positions(ctx)
	if len(got) != 1 || got[0].Qty != 2 {
		t.Fatalf("expected venue snapshot, got %+v", got)
	}

	// Venue failure serves the cache instead of erroring.
	link.mu.Lock()
	link.positionsErr = errors.New("venue down")
	link.mu.Unlock()
	got = e.Positions(ctx)
	if len(got) != 1 || got[0].Symbol != "MNQ" {
		t.Fatalf("expected cached snapshot on venue failure, got %+v", got)
	}

	// Disconnected serves the cache too.
	e.Disconnect(ctx)
	got = e.Positions(ctx)
	if len(got) != 1 {
		t.Fatalf("expected cached snapshot while disconnected, got %+v", got)
	}
}

func TestClosePositionFlatIsNoop(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	if err := e.ClosePosition(context.Background(), "MNQ"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
	if len(link.submitted()) != 0 {
		t.Error("no order expected for a flat symbol")
	}
}

func TestClosePositionSubmitsOpposingMarketOrder(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	e.st.Ledger.ApplyFill("MNQ", model.SideSell, 3, 18000) // short 3

	if err := e.ClosePosition(context.Background(), "MNQ"); err != nil {
		t.Fatalf("close: %v", err)
	}
	subs := link.submitted()
	if len(subs) != 1 {
		t.Fatalf("expected one order, got %d", len(subs))
	}
	if subs[0].Side != model.SideBuy || subs[0].Quantity != 3 || subs[0].Kind != model.KindMarket {
		t.Errorf("expected MARKET BUY 3, got %+v", subs[0])
	}
}

func TestCloseAllPositionsContinuesOnError(t *testing.T) {
	link := newMockLink()
	link.submitErr = func(spec broker.OrderSpec) error {
		if spec.Symbol == "MES" {
			return errors.New("venue error")
		}
		return nil
	}
	e, _ := newTestEngine(link)
	connect(t, e)
	e.st.Ledger.ApplyFill("MNQ", model.SideBuy, 1, 18000)
	e.st.Ledger.ApplyFill("MES", model.SideBuy, 1, 4500)
	e.st.Ledger.ApplyFill("M2K", model.SideBuy, 1, 2000)

	err := e.CloseAllPositions(context.Background())
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	// The failing symbol must not stop the others.
	if got := len(link.submitted()); got != 2 {
		t.Errorf("expected 2 successful closes, got %d", got)
	}
}

func TestExecuteSignalInvalidType(t *testing.T) {
	e, _ := newTestEngine(newMockLink())
	err := e.ExecuteSignal(context.Background(), model.Signal{Type: "HOLD", Symbol: "MNQ", Contracts: 1})
	if !errors.Is(err, ErrInvalidSignal) {
		t.Fatalf("expected ErrInvalidSignal, got %v", err)
	}
}

func TestExecuteSignalLongPlacesEntryAndStop(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	err := e.ExecuteSignal(context.Background(), model.Signal{
		Type: model.SignalLong, Symbol: "MES", Contracts: 2, StopLoss: 4500,
	})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}

	subs := link.submitted()
	if len(subs) != 2 {
		t.Fatalf("expected exactly entry + stop, got %d orders", len(subs))
	}
	entry, stop := subs[0], subs[1]
	if entry.Side != model.SideBuy || entry.Quantity != 2 || entry.Kind != model.KindMarket {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if stop.Side != model.SideSell || stop.Quantity != 2 || stop.Kind != model.KindStop || stop.StopPrice != 4500 {
		t.Errorf("unexpected protective stop: %+v", stop)
	}
}

func TestExecuteSignalShortWithoutStop(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)

	if err := e.ExecuteSignal(context.Background(), model.Signal{
		Type: model.SignalShort, Symbol: "MES", Contracts: 1,
	}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	subs := link.submitted()
	if len(subs) != 1 || subs[0].Side != model.SideSell {
		t.Fatalf("expected single MARKET SELL, got %+v", subs)
	}
}

func TestExecuteSignalStopFailureDoesNotFailSignal(t *testing.T) {
	link := newMockLink()
	link.submitErr = func(spec broker.OrderSpec) error {
		if spec.Kind == model.KindStop {
			return errors.New("venue error")
		}
		return nil
	}
	e, _ := newTestEngine(link)
	connect(t, e)

	if err := e.ExecuteSignal(context.Background(), model.Signal{
		Type: model.SignalLong, Symbol: "MES", Contracts: 1, StopLoss: 4500,
	}); err != nil {
		t.Fatalf("entry succeeded, signal must succeed: %v", err)
	}
}

func TestExecuteSignalExitClosesAndCancels(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	e.st.Ledger.ApplyFill("MNQ", model.SideBuy, 2, 18000)

	if err := e.ExecuteSignal(context.Background(), model.Signal{
		Type: model.SignalExit, Symbol: "MNQ",
	}); err != nil {
		t.Fatalf("exit: %v", err)
	}
	subs := link.submitted()
	if len(subs) != 1 || subs[0].Side != model.SideSell || subs[0].Quantity != 2 {
		t.Errorf("expected closing MARKET SELL 2, got %+v", subs)
	}
	if link.cancelAllCalls != 1 {
		t.Errorf("expected venue cancel-all on exit, got %d", link.cancelAllCalls)
	}
}

func TestEmergencyStopDisablesThenCleansUp(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	e.PlaceOrder(context.Background(), marketDraft(1))

	if err := e.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("no positions: cleanup should be clean, got %v", err)
	}
	if e.TradingEnabled() {
		t.Error("expected trading disabled")
	}
	if link.cancelAllCalls != 1 {
		t.Errorf("expected venue cancel-all, got %d", link.cancelAllCalls)
	}
}

func TestEmergencyStopCloseGoesThroughDisabledGate(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	connect(t, e)
	e.st.Ledger.ApplyFill("MNQ", model.SideBuy, 1, 18000)

	err := e.EmergencyStop(context.Background())
	if !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("closes run after the disable and must hit the gate, got %v", err)
	}
	if len(link.submitted()) != 0 {
		t.Error("no close order may reach the venue after the disable")
	}
}

func TestAccountInfoFeedsRiskGate(t *testing.T) {
	link := newMockLink()
	link.account = broker.AccountReport{AccountID: "ACC-1", Balance: 25000, DailyPnL: -2000}
	e, _ := newTestEngine(link)
	ctx := context.Background()
	connect(t, e)

	acct, err := e.AccountInfo(ctx)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.AccountID != "ACC-1" {
		t.Errorf("unexpected account: %+v", acct)
	}
	// The venue's daily PnL drives the loss limit.
	if _, err := e.PlaceOrder(ctx, marketDraft(1)); !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("expected loss-limit reject, got %v", err)
	}
}

func TestAccountInfoDisconnectedServesCache(t *testing.T) {
	link := newMockLink()
	link.account = broker.AccountReport{AccountID: "ACC-1", Balance: 25000}
	e, _ := newTestEngine(link)
	ctx := context.Background()

	if _, err := e.AccountInfo(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected with no cache, got %v", err)
	}

	connect(t, e)
	if _, err := e.AccountInfo(ctx); err != nil {
		t.Fatalf("account: %v", err)
	}
	e.Disconnect(ctx)

	acct, err := e.AccountInfo(ctx)
	if err != nil {
		t.Fatalf("expected cached account, got %v", err)
	}
	if acct.AccountID != "ACC-1" {
		t.Errorf("unexpected cached account: %+v", acct)
	}
}

func TestConnectFailurePublishesStatus(t *testing.T) {
	link := newMockLink()
	link.connectErr = errors.New("gateway down")
	e, bus := newTestEngine(link)
	sub := bus.Subscribe("test", event.TypeConnectionStatus)
	defer sub.Close()

	if err := e.Connect(context.Background()); !errors.Is(err, ErrVenue) {
		t.Fatalf("expected ErrVenue, got %v", err)
	}
	if e.Connected() {
		t.Error("expected disconnected after failure")
	}
	ev := recvEvent(t, sub)
	cs := ev.(event.ConnectionStatus)
	if cs.Connected || cs.Error == "" {
		t.Errorf("expected failure status with cause, got %+v", cs)
	}
}

func TestMarketDataPushUpdatesCacheAndPublishes(t *testing.T) {
	link := newMockLink()
	e, bus := newTestEngine(link)
	sub := bus.Subscribe("test", event.TypeMarketData)
	defer sub.Close()
	connect(t, e)

	before := time.Now()
	link.pushCh <- broker.Push{MarketData: &broker.MarketDataPush{Symbol: "MNQ", LastPrice: 18050}}

	ev := recvEvent(t, sub)
	md := ev.(event.MarketData)
	if md.Snapshot.Symbol != "MNQ" || md.Snapshot.LastPrice != 18050 {
		t.Fatalf("unexpected snapshot: %+v", md.Snapshot)
	}
	if md.Snapshot.Timestamp.Before(before) {
		t.Errorf("snapshot timestamp %v predates the push at %v", md.Snapshot.Timestamp, before)
	}
	if snap, ok := e.MarketData("MNQ"); !ok || snap.LastPrice != 18050 {
		t.Errorf("cache not updated: %+v ok=%v", snap, ok)
	}
}

func TestConnectedAnswersDuringSlowHandshake(t *testing.T) {
	link := newMockLink()
	link.connectStarted = make(chan struct{})
	link.connectGate = make(chan struct{})
	e, _ := newTestEngine(link)

	done := make(chan error, 1)
	go func() { done <- e.Connect(context.Background()) }()
	<-link.connectStarted

	// With the handshake in flight, reads must not wait on venue I/O.
	answered := make(chan bool, 1)
	go func() { answered <- e.Connected() }()
	select {
	case up := <-answered:
		if up {
			t.Error("connected reported before the handshake finished")
		}
	case <-time.After(time.Second):
		t.Fatal("Connected blocked on the venue handshake")
	}

	close(link.connectGate)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !e.Connected() {
		t.Error("expected connected after the handshake")
	}
}

func TestFillPushAdvancesBookLedgerAndGate(t *testing.T) {
	link := newMockLink()
	e, bus := newTestEngine(link)
	orderSub := bus.Subscribe("orders", event.TypeOrderUpdate)
	posSub := bus.Subscribe("positions", event.TypePositionUpdate)
	defer orderSub.Close()
	defer posSub.Close()
	connect(t, e)

	order, _ := e.PlaceOrder(context.Background(), marketDraft(2))
	recvEvent(t, orderSub) // submission event

	link.pushCh <- broker.Push{Fill: &broker.FillPush{
		OrderID: order.OrderID, Symbol: "MNQ", Side: model.SideBuy, Qty: 2, Price: 18000,
	}}

	ev := recvEvent(t, orderSub)
	ou := ev.(event.OrderUpdate)
	if ou.Order.Status != model.StatusFilled || ou.Order.FilledQty != 2 {
		t.Fatalf("expected FILLED 2, got %+v", ou.Order)
	}

	ev = recvEvent(t, posSub)
	pu := ev.(event.PositionUpdate)
	if pu.Position.Qty != 2 || pu.Position.AvgPrice != 18000 {
		t.Fatalf("expected long 2 @ 18000, got %+v", pu.Position)
	}
}

func TestDisconnectKeepsState(t *testing.T) {
	link := newMockLink()
	e, _ := newTestEngine(link)
	ctx := context.Background()
	connect(t, e)
	order, _ := e.PlaceOrder(ctx, marketDraft(1))
	e.st.Ledger.ApplyFill("MNQ", model.SideBuy, 1, 18000)

	e.Disconnect(ctx)
	if e.Connected() {
		t.Fatal("expected disconnected")
	}
	if _, ok := e.Order(order.OrderID); !ok {
		t.Error("book must survive disconnect")
	}
	if got := e.Positions(ctx); len(got) != 1 {
		t.Errorf("ledger must survive disconnect, got %+v", got)
	}
}
