package model

// SignalType is the action requested by the strategy system.
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
	SignalExit  SignalType = "EXIT"
)

// Valid reports whether the signal type is a known value.
func (s SignalType) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalExit:
		return true
	}
	return false
}

// Signal is a trading instruction from the external strategy system.
type Signal struct {
	Type       SignalType `json:"signal_type"`
	Symbol     string     `json:"symbol"`
	Contracts  int64      `json:"contracts"`
	Confidence float64    `json:"confidence,omitempty"`
	EntryPrice float64    `json:"entry_price,omitempty"`
	StopLoss   float64    `json:"stop_loss,omitempty"`
	TakeProfit float64    `json:"take_profit,omitempty"`
}
