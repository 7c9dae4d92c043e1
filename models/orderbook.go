package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderBookMessageType tags the payload carried by an OrderBookMessage.
type OrderBookMessageType string

const (
	SnapshotMessage OrderBookMessageType = "snapshot"
	DiffMessage     OrderBookMessageType = "diff"
	TradeMessage    OrderBookMessageType = "trade"
)

// PriceLevel is a single bid or ask level.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// TradeType is the taker side of a trade.
type TradeType int

const (
	TradeTypeBuy  TradeType = 1
	TradeTypeSell TradeType = 2
)

func (t TradeType) String() string {
	switch t {
	case TradeTypeBuy:
		return "buy"
	case TradeTypeSell:
		return "sell"
	default:
		return "unknown"
	}
}

// UnmarshalJSON accepts the numeric side codes as well as "buy"/"sell".
func (t *TradeType) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(raw) {
	case "buy", "bid":
		*t = TradeTypeBuy
		return nil
	case "sell", "ask":
		*t = TradeTypeSell
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid trade type %q", raw)
	}
	switch TradeType(f) {
	case TradeTypeBuy, TradeTypeSell:
		*t = TradeType(f)
		return nil
	}
	return fmt.Errorf("invalid trade type %q", raw)
}

func (t TradeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// TradeContent is the payload of a TRADE message.
//
// Payeer does not publish trade ids, so TradeID is the trade timestamp in
// seconds. Trades sharing a millisecond share an id.
type TradeContent struct {
	TradeID   float64         `json:"trade_id"`
	TradeType TradeType       `json:"trade_type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
}

// OrderBookMessage is the normalized event published by the order book reader.
// Timestamp is the exchange event time in seconds. UpdateID equals Timestamp
// because the exchange exposes no sequence number.
type OrderBookMessage struct {
	Type        OrderBookMessageType `json:"type"`
	TradingPair string               `json:"trading_pair"`
	UpdateID    float64              `json:"update_id"`
	Timestamp   float64              `json:"timestamp"`
	Bids        []PriceLevel         `json:"bids,omitempty"`
	Asks        []PriceLevel         `json:"asks,omitempty"`
	Trade       *TradeContent        `json:"trade,omitempty"`
}

// MsToSeconds converts an exchange millisecond timestamp to seconds.
func MsToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

// Levels converts raw [price, amount] pairs into price levels. Entries with
// fewer than two fields are rejected.
func Levels(raw [][]decimal.Decimal) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d: expected [price, amount], got %d fields", i, len(entry))
		}
		levels = append(levels, PriceLevel{Price: entry[0], Amount: entry[1]})
	}
	return levels, nil
}
