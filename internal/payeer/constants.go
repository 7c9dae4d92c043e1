// Package payeer holds the exchange constants shared by the request pipeline,
// the readers and the trading client.
package payeer

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ExchangeName = "payeer"

	PublicRestBase  = "https://payeer.com/api/trade/"
	PrivateRestBase = "https://payeer.com/api/trade/"

	MaxOrderIDLen = 32
	OrderIDPrefix = "HMBot"
	PingTimeout   = 15 * time.Second

	ExamplePair = "BTC-USDT"
)

// REST endpoints. Each path doubles as its rate limit id.
const (
	OrderPath       = "order_create"
	OrderCancelPath = "order_cancel"
	OrderStatusPath = "order_status"
	BalancePath     = "account"
	TickerPath      = "ticker"
	ProductsPath    = "info"
	TradesPath      = "trades"
	DepthPath       = "depth"
	TimePath        = "time"
	StreamPath      = "stream"
)

// AllEndpointsLimit is debited by every call.
const AllEndpointsLimit = "All"

// RateLimit describes one quota pool.
type RateLimit struct {
	ID        string
	Limit     int
	Interval  time.Duration
	LinkedIDs []string
}

// RateLimits returns the exchange-declared pools.
func RateLimits() []RateLimit {
	linked := func(id string, limit int) RateLimit {
		return RateLimit{ID: id, Limit: limit, Interval: time.Second, LinkedIDs: []string{AllEndpointsLimit}}
	}
	return []RateLimit{
		{ID: AllEndpointsLimit, Limit: 100, Interval: time.Second},
		linked(OrderPath, 50),
		linked(OrderCancelPath, 50),
		linked(OrderStatusPath, 50),
		linked(BalancePath, 100),
		linked(TickerPath, 100),
		linked(ProductsPath, 100),
		linked(TradesPath, 100),
		linked(DepthPath, 100),
		linked(TimePath, 100),
	}
}

// Fees is a maker/taker fee schedule expressed as fractions.
type Fees struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

var DefaultFees = Fees{
	Maker: decimal.RequireFromString("0.01"),
	Taker: decimal.RequireFromString("0.095"),
}
