package models

import "github.com/shopspring/decimal"

// DepthResponse is the body of the depth endpoint.
type DepthResponse struct {
	Timestamp int64               `json:"timestamp"`
	Bids      [][]decimal.Decimal `json:"bids"`
	Asks      [][]decimal.Decimal `json:"asks"`
}

// DiffEvent is a pushed order book delta.
type DiffEvent struct {
	Pair      string              `json:"pair"`
	Timestamp int64               `json:"timestamp"`
	Bids      [][]decimal.Decimal `json:"bids"`
	Asks      [][]decimal.Decimal `json:"asks"`
}

// TradeEvent is a pushed batch of trades for one pair.
type TradeEvent struct {
	Pair   string     `json:"pair"`
	Trades []RawTrade `json:"trades"`
}

type RawTrade struct {
	Timestamp int64           `json:"timestamp"`
	Type      TradeType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
}

// StreamEnvelope wraps messages on the push channel.
type StreamEnvelope struct {
	Channel string `json:"channel"`
	Event   string `json:"event,omitempty"`
}

// OrderStatus is one order as reported by order_status.
type OrderStatus struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	Pair          string `json:"pair,omitempty"`
	Status        string `json:"status"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// AccountResponse is the body of the account endpoint.
type AccountResponse struct {
	Balances map[string]AccountBalance `json:"balances"`
}

type AccountBalance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// TimeResponse is the body of the time endpoint.
type TimeResponse struct {
	Time int64 `json:"time"`
}

// PairInfo is one entry of the info endpoint.
type PairInfo struct {
	Symbol     string `json:"symbol"`
	StatusCode string `json:"statusCode"`
}

// TickerResponse maps exchange symbols to ticker data.
type TickerResponse struct {
	Pairs map[string]TickerEntry `json:"pairs"`
}

type TickerEntry struct {
	Last decimal.Decimal `json:"last"`
}

// OrderCreateRequest is the body posted to order_create.
type OrderCreateRequest struct {
	Pair          string `json:"pair"`
	Type          string `json:"type"`
	Action        string `json:"action"`
	Amount        string `json:"amount"`
	Price         string `json:"price,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

type OrderCreateResponse struct {
	Info struct {
		OrderID   string `json:"orderId"`
		Timestamp int64  `json:"timestamp"`
	} `json:"info"`
}

type OrderCancelRequest struct {
	OrderID string `json:"order_id"`
}
