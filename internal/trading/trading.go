// Package trading implements the order entry and account queries of the
// Payeer connector on top of the signed request pipeline.
package trading

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payeerflow/internal/payeer"
	"payeerflow/internal/rest"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
	"payeerflow/models"
)

// Executor is the subset of rest.Client used here.
type Executor interface {
	Get(ctx context.Context, req rest.Request, out any) error
	Post(ctx context.Context, req rest.Request, out any) error
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderRequest is a new order in normalized terms.
type OrderRequest struct {
	ClientOrderID string
	TradingPair   string
	Side          OrderSide
	Type          OrderType
	Amount        decimal.Decimal
	Price         decimal.Decimal
}

// PlacedOrder is the exchange acknowledgement of an order.
type PlacedOrder struct {
	ClientOrderID   string
	ExchangeOrderID string
	Timestamp       int64
}

type Client struct {
	exec   Executor
	mapper symbols.Mapper
	log    *logger.Entry
}

func NewClient(exec Executor, mapper symbols.Mapper) *Client {
	return &Client{
		exec:   exec,
		mapper: mapper,
		log:    logger.GetLogger().WithComponent("trading"),
	}
}

// NewClientOrderID returns a fresh id no longer than payeer.MaxOrderIDLen.
func NewClientOrderID() string {
	id := payeer.OrderIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > payeer.MaxOrderIDLen {
		id = id[:payeer.MaxOrderIDLen]
	}
	return id
}

// PlaceOrder submits req. A missing ClientOrderID is generated.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (PlacedOrder, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
	}
	if len(req.ClientOrderID) > payeer.MaxOrderIDLen {
		return PlacedOrder{}, fmt.Errorf("client order id %q exceeds %d characters", req.ClientOrderID, payeer.MaxOrderIDLen)
	}
	if req.Type == "" {
		req.Type = OrderTypeLimit
	}
	if !req.Amount.IsPositive() {
		return PlacedOrder{}, fmt.Errorf("order amount must be positive, got %s", req.Amount)
	}
	if req.Type == OrderTypeLimit && !req.Price.IsPositive() {
		return PlacedOrder{}, fmt.Errorf("limit order price must be positive, got %s", req.Price)
	}
	symbol, err := c.mapper.ExchangeSymbol(ctx, req.TradingPair)
	if err != nil {
		return PlacedOrder{}, err
	}

	body := models.OrderCreateRequest{
		Pair:          symbol,
		Type:          string(req.Type),
		Action:        string(req.Side),
		Amount:        req.Amount.String(),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == OrderTypeLimit {
		body.Price = req.Price.String()
	}

	var resp models.OrderCreateResponse
	if err := c.exec.Post(ctx, rest.Request{Path: payeer.OrderPath, Private: true, Body: body}, &resp); err != nil {
		return PlacedOrder{}, err
	}
	placed := PlacedOrder{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: resp.Info.OrderID,
		Timestamp:       resp.Info.Timestamp,
	}
	c.log.WithFields(logger.Fields{
		"client_order_id":   placed.ClientOrderID,
		"exchange_order_id": placed.ExchangeOrderID,
		"pair":              req.TradingPair,
		"side":              req.Side,
	}).Info("order placed")
	return placed, nil
}

// CancelOrder asks the exchange to cancel exchangeOrderID.
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if exchangeOrderID == "" {
		return fmt.Errorf("exchange order id is required")
	}
	return c.exec.Post(ctx, rest.Request{
		Path:    payeer.OrderCancelPath,
		Private: true,
		Body:    models.OrderCancelRequest{OrderID: exchangeOrderID},
	}, nil)
}

// RequestOrderStatus fetches one order and normalizes its state. An
// unrecognized exchange status is returned as *models.UnknownOrderStatusError.
func (c *Client) RequestOrderStatus(ctx context.Context, clientOrderID, exchangeOrderID, tradingPair string) (models.OrderUpdate, error) {
	var status models.OrderStatus
	err := c.exec.Get(ctx, rest.Request{
		Path:    payeer.OrderStatusPath,
		Private: true,
		Params:  url.Values{"order_id": {exchangeOrderID}},
	}, &status)
	if err != nil {
		return models.OrderUpdate{}, err
	}
	state, err := models.ParseOrderState(status.Status)
	if err != nil {
		return models.OrderUpdate{}, err
	}
	ts := float64(time.Now().UnixMilli()) / 1000
	if status.Timestamp > 0 {
		ts = models.MsToSeconds(status.Timestamp)
	}
	if status.OrderID != "" {
		exchangeOrderID = status.OrderID
	}
	return models.OrderUpdate{
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: exchangeOrderID,
		TradingPair:     tradingPair,
		NewState:        state,
		RawStatus:       status.Status,
		UpdateTimestamp: ts,
	}, nil
}

// Balances returns every asset reported by the account endpoint.
func (c *Client) Balances(ctx context.Context) ([]models.BalanceUpdate, error) {
	var resp models.AccountResponse
	if err := c.exec.Get(ctx, rest.Request{Path: payeer.BalancePath, Private: true}, &resp); err != nil {
		return nil, err
	}
	return BalanceUpdates(resp, time.Now()), nil
}

// BalanceUpdates flattens an account response stamped with at.
func BalanceUpdates(resp models.AccountResponse, at time.Time) []models.BalanceUpdate {
	out := make([]models.BalanceUpdate, 0, len(resp.Balances))
	for asset, b := range resp.Balances {
		out = append(out, models.BalanceUpdate{
			Asset:     strings.ToUpper(asset),
			Total:     b.Total,
			Available: b.Available,
			Timestamp: at,
		})
	}
	return out
}

// TradingPairs lists the pairs currently open for trading, normalized to
// BASE-QUOTE.
func (c *Client) TradingPairs(ctx context.Context) ([]string, error) {
	var infos []models.PairInfo
	if err := c.exec.Get(ctx, rest.Request{Path: payeer.ProductsPath}, &infos); err != nil {
		return nil, err
	}
	pairs := make([]string, 0, len(infos))
	for _, info := range infos {
		if !payeer.IsPairInformationValid(info) {
			continue
		}
		pairs = append(pairs, symbols.FromPayeer(info.Symbol))
	}
	return pairs, nil
}

// LastTradedPrices returns the last price for each requested pair that the
// ticker reports.
func (c *Client) LastTradedPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	syms := make([]string, 0, len(pairs))
	for _, p := range pairs {
		sym, err := c.mapper.ExchangeSymbol(ctx, p)
		if err != nil {
			return nil, err
		}
		syms = append(syms, sym)
	}

	var resp models.TickerResponse
	req := rest.Request{Path: payeer.TickerPath}
	if len(syms) > 0 {
		req.Params = url.Values{"pair": {strings.Join(syms, ",")}}
	}
	if err := c.exec.Get(ctx, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(pairs))
	for sym, entry := range resp.Pairs {
		pair, err := c.mapper.TradingPair(ctx, sym)
		if err != nil {
			continue
		}
		out[pair] = entry.Last
	}
	return out, nil
}

// ServerTime reads the exchange clock. It satisfies timesync.TimeSource.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp models.TimeResponse
	if err := c.exec.Get(ctx, rest.Request{Path: payeer.TimePath}, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.Time), nil
}
