package payeer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"payeerflow/config"
	exchange "payeerflow/internal/payeer"
	"payeerflow/internal/rest"
	"payeerflow/internal/supervisor"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
)

const userStreamComponent = "user_stream_reader"

// OrderStatusHandler receives the raw order_status payload for one pair.
type OrderStatusHandler interface {
	HandleOrderStatus(ctx context.Context, pair string, raw json.RawMessage) error
}

// BalanceHandler receives the raw account payload.
type BalanceHandler interface {
	HandleBalance(ctx context.Context, raw json.RawMessage) error
}

// UserStreamReader polls private order and balance state. Payeer has no
// private push channel, so each cycle queries order_status for every pair in
// order and then the account.
type UserStreamReader struct {
	exec     Requester
	mapper   symbols.Mapper
	pairs    []string
	orders   OrderStatusHandler
	balances BalanceHandler
	runner   *supervisor.Runner
	log      *logger.Log
}

func NewUserStreamReader(exec Requester, mapper symbols.Mapper, pairs []string, orders OrderStatusHandler, balances BalanceHandler, cfg config.UserStreamConfig, opts ...Option) *UserStreamReader {
	return &UserStreamReader{
		exec:     exec,
		mapper:   mapper,
		pairs:    append([]string(nil), pairs...),
		orders:   orders,
		balances: balances,
		runner:   newRunner(userStreamComponent, cfg.PollInterval, cfg.ErrorBackoff, opts),
		log:      logger.GetLogger(),
	}
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (r *UserStreamReader) Run(ctx context.Context) error {
	r.log.WithComponent(userStreamComponent).WithField("pairs", r.pairs).Info("user stream started")
	return r.runner.Run(ctx, r.poll)
}

func (r *UserStreamReader) poll(ctx context.Context) error {
	if err := r.fetchOrderStatus(ctx); err != nil {
		return err
	}
	return r.fetchBalance(ctx)
}

func (r *UserStreamReader) fetchOrderStatus(ctx context.Context) error {
	for _, pair := range r.pairs {
		sym, err := r.mapper.ExchangeSymbol(ctx, pair)
		if err != nil {
			return err
		}
		raw, err := r.exec.Execute(ctx, rest.Request{
			Path:    exchange.OrderStatusPath,
			Private: true,
			Params:  url.Values{"symbol": {sym}},
		})
		if err != nil {
			return fmt.Errorf("order status %s: %w", pair, err)
		}
		logger.IncrementUserPoll(len(raw))
		if r.orders != nil {
			if err := r.orders.HandleOrderStatus(ctx, pair, raw); err != nil {
				return fmt.Errorf("handle order status %s: %w", pair, err)
			}
		}
	}
	return nil
}

func (r *UserStreamReader) fetchBalance(ctx context.Context) error {
	raw, err := r.exec.Execute(ctx, rest.Request{Path: exchange.BalancePath, Private: true})
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	logger.IncrementUserPoll(len(raw))
	if r.balances != nil {
		if err := r.balances.HandleBalance(ctx, raw); err != nil {
			return fmt.Errorf("handle balance: %w", err)
		}
	}
	return nil
}
