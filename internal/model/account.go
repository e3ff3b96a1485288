package model

// AccountInfo is a point-in-time account snapshot. It is rebuilt wholesale
// on each venue query, never incrementally mutated.
type AccountInfo struct {
	AccountID     string     `json:"account_id"`
	Balance       float64    `json:"balance"`
	BuyingPower   float64    `json:"buying_power"`
	DailyPnL      float64    `json:"daily_pnl"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
	Positions     []Position `json:"positions"`
}
