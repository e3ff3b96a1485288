package model

import "time"

// MarketDataSnapshot is the latest quote/trade state for one symbol.
// It is overwritten in place on every venue push; no history is kept.
type MarketDataSnapshot struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   int64     `json:"bid_size"`
	AskSize   int64     `json:"ask_size"`
	Volume    int64     `json:"volume"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Open      float64   `json:"open"`
	Timestamp time.Time `json:"timestamp"`
}
