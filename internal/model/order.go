package model

import (
	"errors"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is a known value.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderKind is the execution type of an order.
type OrderKind string

const (
	KindMarket    OrderKind = "MARKET"
	KindLimit     OrderKind = "LIMIT"
	KindStop      OrderKind = "STOP"
	KindStopLimit OrderKind = "STOP_LIMIT"
)

// Kinds lists every order kind the gateway accepts. The broker mapping
// table is validated against this set at construction.
func Kinds() []OrderKind {
	return []OrderKind{KindMarket, KindLimit, KindStop, KindStopLimit}
}

// Valid reports whether the kind is a known value.
func (k OrderKind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindStop, KindStopLimit:
		return true
	}
	return false
}

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Open reports whether an order in this status still rests with the venue.
func (s OrderStatus) Open() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusPartiallyFilled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

var (
	ErrBadQuantity  = errors.New("order quantity must be positive")
	ErrNeedPrice    = errors.New("limit price required for LIMIT and STOP_LIMIT orders")
	ErrNeedStop     = errors.New("stop price required for STOP and STOP_LIMIT orders")
	ErrBadSide      = errors.New("unknown order side")
	ErrBadOrderKind = errors.New("unknown order kind")
)

// Order represents a broker order tracked by the order book.
type Order struct {
	OrderID      string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Quantity     int64       `json:"quantity"`
	Kind         OrderKind   `json:"order_type"`
	Price        float64     `json:"price,omitempty"`      // limit price, 0 for market
	StopPrice    float64     `json:"stop_price,omitempty"` // trigger price
	Status       OrderStatus `json:"status"`
	FilledQty    int64       `json:"filled_quantity"`
	AvgFillPrice float64     `json:"filled_price"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Draft is an order request before submission to the venue.
type Draft struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	Kind      OrderKind `json:"order_type"`
	Price     float64   `json:"price,omitempty"`
	StopPrice float64   `json:"stop_price,omitempty"`
}

// Validate checks the draft's input invariants: known side and kind,
// positive quantity, and the price fields each kind requires.
func (d Draft) Validate() error {
	if !d.Side.Valid() {
		return ErrBadSide
	}
	if !d.Kind.Valid() {
		return ErrBadOrderKind
	}
	if d.Quantity <= 0 {
		return ErrBadQuantity
	}
	switch d.Kind {
	case KindLimit:
		if d.Price <= 0 {
			return ErrNeedPrice
		}
	case KindStop:
		if d.StopPrice <= 0 {
			return ErrNeedStop
		}
	case KindStopLimit:
		if d.Price <= 0 {
			return ErrNeedPrice
		}
		if d.StopPrice <= 0 {
			return ErrNeedStop
		}
	}
	return nil
}
