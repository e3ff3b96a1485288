// Package event provides the in-process event bus that distributes
// market-data, order, position, and connection-status events from the
// execution engine to its observers (WebSocket hub, Redis publisher,
// notifiers).
package event

import "tradegate/internal/model"

// Type is the category of an event.
type Type string

const (
	TypeMarketData       Type = "market_data"
	TypeOrderUpdate      Type = "order_update"
	TypePositionUpdate   Type = "position_update"
	TypeConnectionStatus Type = "connection_status"
)

// Types returns every event type, in a stable order.
func Types() []Type {
	return []Type{TypeMarketData, TypeOrderUpdate, TypePositionUpdate, TypeConnectionStatus}
}

// Event is the tagged union carried on the bus. Concrete payloads are one
// of MarketData, OrderUpdate, PositionUpdate, ConnectionStatus.
type Event interface {
	Type() Type
}

// MarketData is published after a venue push updates the snapshot cache.
type MarketData struct {
	Snapshot model.MarketDataSnapshot `json:"snapshot"`
}

func (MarketData) Type() Type { return TypeMarketData }

// OrderUpdate is published whenever an order book entry changes state.
type OrderUpdate struct {
	Order model.Order `json:"order"`
}

func (OrderUpdate) Type() Type { return TypeOrderUpdate }

// PositionUpdate is published when a ledger entry changes.
type PositionUpdate struct {
	Position model.Position `json:"position"`
}

func (PositionUpdate) Type() Type { return TypePositionUpdate }

// ConnectionStatus is published on connect, disconnect, and connect failure.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (ConnectionStatus) Type() Type { return TypeConnectionStatus }

// Payload unwraps the domain value carried by an event, for transports
// that serialize the payload without the union wrapper.
func Payload(ev Event) interface{} {
	switch e := ev.(type) {
	case MarketData:
		return e.Snapshot
	case OrderUpdate:
		return e.Order
	case PositionUpdate:
		return e.Position
	default:
		return ev
	}
}
