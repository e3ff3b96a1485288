// Package broker defines the capability interface to the execution venue
// and the adapters that implement it. The engine treats the venue as an
// opaque remote service: connect, subscribe, submit, cancel, query. All
// calls may block on network I/O and may fail; the engine converts those
// failures into its own result contracts.
package broker

import (
	"context"

	"tradegate/internal/model"
)

// AckStatus is the venue's immediate response class to a submission.
type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckQueued   AckStatus = "QUEUED"
	AckRejected AckStatus = "REJECTED"
)

// OrderSpec is an order request in gateway terms. Adapters translate the
// kind and side through their mapping tables before hitting the wire.
type OrderSpec struct {
	Symbol    string
	Side      model.Side
	Quantity  int64
	Kind      model.OrderKind
	Price     float64
	StopPrice float64
}

// Ack is the venue's response to a submission.
type Ack struct {
	OrderID string
	Status  AckStatus
}

// AccountReport is the venue's account snapshot.
type AccountReport struct {
	AccountID     string  `json:"account_id"`
	Balance       float64 `json:"balance"`
	BuyingPower   float64 `json:"buying_power"`
	DailyPnL      float64 `json:"daily_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// MarketDataPush is a quote/trade update pushed by the venue.
type MarketDataPush struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_trade_price"`
	Bid       float64 `json:"best_bid_price"`
	Ask       float64 `json:"best_ask_price"`
	BidSize   int64   `json:"best_bid_size"`
	AskSize   int64   `json:"best_ask_size"`
	Volume    int64   `json:"volume"`
	High      float64 `json:"high_price"`
	Low       float64 `json:"low_price"`
	Open      float64 `json:"open_price"`
}

// FillPush is an execution report pushed by the venue.
type FillPush struct {
	OrderID string     `json:"order_id"`
	Symbol  string     `json:"symbol"`
	Side    model.Side `json:"side"`
	Qty     int64      `json:"quantity"`
	Price   float64    `json:"price"`
}

// Push is one venue push event; exactly one field is set.
type Push struct {
	MarketData *MarketDataPush
	Fill       *FillPush
}

// Link is the narrow capability interface to the venue.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Subscribe starts market data delivery for a symbol on Pushes.
	Subscribe(ctx context.Context, symbol string) error

	SubmitOrder(ctx context.Context, spec OrderSpec) (Ack, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) error

	Positions(ctx context.Context) ([]model.Position, error)
	AccountInfo(ctx context.Context) (AccountReport, error)

	// Pushes returns the venue push stream (market data and fills). The
	// channel is closed on disconnect.
	Pushes() <-chan Push
}
