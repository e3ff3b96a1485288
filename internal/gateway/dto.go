package gateway

import "tradegate/internal/model"

// placeOrderRequest is the POST /orders body.
type placeOrderRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  int64   `json:"quantity"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price,omitempty"`
	StopPrice float64 `json:"stop_price,omitempty"`
}

func (r placeOrderRequest) draft() model.Draft {
	return model.Draft{
		Symbol:    r.Symbol,
		Side:      model.Side(r.Side),
		Quantity:  r.Quantity,
		Kind:      model.OrderKind(r.OrderType),
		Price:     r.Price,
		StopPrice: r.StopPrice,
	}
}
