package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the normalized lifecycle state of a tracked order.
type OrderState string

const (
	OrderStatePendingCreate   OrderState = "pending_create"
	OrderStateOpen            OrderState = "open"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCanceled        OrderState = "canceled"
	OrderStateFailed          OrderState = "failed"
)

// IsDone reports whether no further transitions are expected.
func (s OrderState) IsDone() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateFailed:
		return true
	}
	return false
}

// OrderStates maps Payeer order status strings to normalized states.
var OrderStates = map[string]OrderState{
	"PendingNew":      OrderStatePendingCreate,
	"New":             OrderStateOpen,
	"Filled":          OrderStateFilled,
	"PartiallyFilled": OrderStatePartiallyFilled,
	"Canceled":        OrderStateCanceled,
	"Rejected":        OrderStateFailed,
}

// UnknownOrderStatusError is returned for status strings missing from OrderStates.
type UnknownOrderStatusError struct {
	Status string
}

func (e *UnknownOrderStatusError) Error() string {
	return fmt.Sprintf("unknown order status %q", e.Status)
}

// ParseOrderState translates an exchange status string.
func ParseOrderState(status string) (OrderState, error) {
	state, ok := OrderStates[status]
	if !ok {
		return "", &UnknownOrderStatusError{Status: status}
	}
	return state, nil
}

// OrderUpdate is a state transition observation for an external order tracker.
type OrderUpdate struct {
	ClientOrderID   string     `json:"client_order_id,omitempty"`
	ExchangeOrderID string     `json:"exchange_order_id"`
	TradingPair     string     `json:"trading_pair"`
	NewState        OrderState `json:"new_state"`
	RawStatus       string     `json:"raw_status"`
	UpdateTimestamp float64    `json:"update_timestamp"`
}

// BalanceUpdate carries one asset balance from the account endpoint.
type BalanceUpdate struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Timestamp time.Time       `json:"timestamp"`
}
