package model

// Position represents the net position for a single symbol.
type Position struct {
	Symbol        string  `json:"symbol"`
	Qty           int64   `json:"quantity"`  // positive = long, negative = short
	AvgPrice      float64 `json:"avg_price"` // average entry price
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// Flat reports whether the position has zero net quantity.
func (p Position) Flat() bool {
	return p.Qty == 0
}

// AbsQty returns the unsigned position size.
func (p Position) AbsQty() int64 {
	if p.Qty < 0 {
		return -p.Qty
	}
	return p.Qty
}

// ClosingSide returns the order side that flattens this position.
func (p Position) ClosingSide() Side {
	if p.Qty > 0 {
		return SideSell
	}
	return SideBuy
}
