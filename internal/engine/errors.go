package engine

import "errors"

var (
	// ErrNotConnected is returned by trading operations attempted while
	// the venue session is down. Transport layers map it to 503.
	ErrNotConnected = errors.New("not connected to venue")

	// ErrTradingDisabled is returned when the risk gate blocks a
	// submission, either manually disabled or tripped by the daily-loss
	// cap. Distinct from ErrNotConnected by contract.
	ErrTradingDisabled = errors.New("trading disabled")

	// ErrInvalidSignal is returned for signal types outside LONG, SHORT,
	// and EXIT.
	ErrInvalidSignal = errors.New("invalid signal type")

	// ErrOrderRejected is the downgraded form of any venue submission
	// failure or venue-side rejection. The underlying cause is logged,
	// never propagated.
	ErrOrderRejected = errors.New("order rejected")

	// ErrVenue is the downgraded form of venue cancel/query failures.
	ErrVenue = errors.New("venue call failed")
)
