// Package pipeline drains the acquisition queues into the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"payeerflow/internal/channel"
	"payeerflow/logger"
	"payeerflow/models"
	"payeerflow/processor"
)

// maxMarketBatch caps how many queued messages are sent to the market sink
// in one call.
const maxMarketBatch = 500

// SnapshotSink stores flattened snapshots. *writer.SnapshotWriter implements it.
type SnapshotSink interface {
	Add(ctx context.Context, rows []models.SnapshotRow)
}

// MarketSink forwards DIFF and TRADE messages. *writer.KafkaWriter implements it.
type MarketSink interface {
	Publish(ctx context.Context, msgs ...models.OrderBookMessage) error
}

type Option func(*Dispatcher)

func WithSnapshotSink(s SnapshotSink) Option {
	return func(d *Dispatcher) { d.archive = s }
}

func WithMarketSink(s MarketSink) Option {
	return func(d *Dispatcher) { d.market = s }
}

// Dispatcher consumes every output queue. Queues without a sink are still
// drained so that they do not grow without bound; their items are logged.
type Dispatcher struct {
	ch      *channel.Channels
	archive SnapshotSink
	market  MarketSink
	log     *logger.Log
}

func NewDispatcher(ch *channel.Channels, opts ...Option) *Dispatcher {
	d := &Dispatcher{ch: ch, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run blocks until ctx is done or every queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := d.log.WithComponent("dispatcher")
	log.WithFields(logger.Fields{
		"archive": d.archive != nil,
		"market":  d.market != nil,
	}).Info("dispatcher started")

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { drain(ctx, d.ch.Snapshots, d.handleSnapshot) })
	run(func() { drainBatches(ctx, d.ch.Diffs, d.handleMarket) })
	run(func() { drainBatches(ctx, d.ch.Trades, d.handleMarket) })
	run(func() { drain(ctx, d.ch.OrderUpdates, d.handleOrderUpdate) })
	run(func() { drain(ctx, d.ch.Balances, d.handleBalance) })

	wg.Wait()
	log.Info("dispatcher stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func drain[T any](ctx context.Context, q *channel.Queue[T], handle func(context.Context, T)) {
	for {
		item, err := q.Next(ctx)
		if err != nil {
			return
		}
		handle(ctx, item)
	}
}

// drainBatches waits for one item and then takes whatever else is already queued.
func drainBatches[T any](ctx context.Context, q *channel.Queue[T], handle func(context.Context, []T)) {
	for {
		first, err := q.Next(ctx)
		if err != nil {
			return
		}
		batch := []T{first}
		for len(batch) < maxMarketBatch {
			item, ok := q.TryNext()
			if !ok {
				break
			}
			batch = append(batch, item)
		}
		handle(ctx, batch)
	}
}

func (d *Dispatcher) handleSnapshot(ctx context.Context, msg models.OrderBookMessage) {
	rows := processor.FlattenSnapshot(msg)
	if d.archive == nil {
		d.log.WithComponent("dispatcher").WithFields(logger.Fields{
			"pair": msg.TradingPair,
			"rows": len(rows),
		}).Debug("snapshot received")
		return
	}
	d.archive.Add(ctx, rows)
}

func (d *Dispatcher) handleMarket(ctx context.Context, msgs []models.OrderBookMessage) {
	if d.market == nil {
		d.log.WithComponent("dispatcher").WithFields(logger.Fields{
			"type":     msgs[0].Type,
			"messages": len(msgs),
		}).Debug("market messages received")
		return
	}
	if err := d.market.Publish(ctx, msgs...); err != nil {
		d.log.WithComponent("dispatcher").WithError(err).WithField("messages", len(msgs)).Warn("market sink rejected batch")
	}
}

func (d *Dispatcher) handleOrderUpdate(_ context.Context, u models.OrderUpdate) {
	d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"client_order_id":   u.ClientOrderID,
		"exchange_order_id": u.ExchangeOrderID,
		"pair":              u.TradingPair,
		"state":             u.NewState,
		"raw_status":        u.RawStatus,
	}).Info("order update")
}

func (d *Dispatcher) handleBalance(_ context.Context, b models.BalanceUpdate) {
	d.log.WithComponent("dispatcher").WithFields(logger.Fields{
		"asset":     b.Asset,
		"total":     b.Total.String(),
		"available": b.Available.String(),
	}).Debug("balance update")
}
