package engine

import (
	"tradegate/internal/book"
	"tradegate/internal/mdcache"
	"tradegate/internal/portfolio"
)

// State is the aggregate of mutable trading state owned by the Engine:
// the order book, the position ledger, and the market data cache. It is
// constructed fresh and handed to the Engine at construction, so tests get
// deterministic state with no ambient globals.
type State struct {
	Book   *book.Book
	Ledger *portfolio.Ledger
	Market *mdcache.Cache
}

// NewState creates an empty state aggregate.
func NewState() *State {
	return &State{
		Book:   book.New(),
		Ledger: portfolio.NewLedger(),
		Market: mdcache.New(),
	}
}
