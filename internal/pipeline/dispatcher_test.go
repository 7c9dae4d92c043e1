package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payeerflow/internal/channel"
	"payeerflow/models"
)

type archiveSink struct {
	mu   sync.Mutex
	rows []models.SnapshotRow
}

func (a *archiveSink) Add(_ context.Context, rows []models.SnapshotRow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, rows...)
}

func (a *archiveSink) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

type marketSink struct {
	mu   sync.Mutex
	msgs []models.OrderBookMessage
}

func (m *marketSink) Publish(_ context.Context, msgs ...models.OrderBookMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *marketSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func level(price, amount string) models.PriceLevel {
	return models.PriceLevel{Price: decimal.RequireFromString(price), Amount: decimal.RequireFromString(amount)}
}

func TestDispatcherRoutesQueues(t *testing.T) {
	ch := channel.NewChannels()
	archive := &archiveSink{}
	market := &marketSink{}
	d := NewDispatcher(ch, WithSnapshotSink(archive), WithMarketSink(market))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	ch.Snapshots.Publish(models.OrderBookMessage{
		Type:        models.SnapshotMessage,
		TradingPair: "BTC-USDT",
		Timestamp:   1620000000,
		UpdateID:    1620000000,
		Bids:        []models.PriceLevel{level("50000", "0.1")},
		Asks:        []models.PriceLevel{level("51000", "0.2"), level("51001", "0.3")},
	})
	ch.Diffs.Publish(models.OrderBookMessage{Type: models.DiffMessage, TradingPair: "BTC-USDT"})
	ch.Trades.Publish(models.OrderBookMessage{Type: models.TradeMessage, TradingPair: "BTC-USDT"})
	ch.Trades.Publish(models.OrderBookMessage{Type: models.TradeMessage, TradingPair: "BTC-USDT"})
	ch.OrderUpdates.Publish(models.OrderUpdate{ExchangeOrderID: "1", NewState: models.OrderStateOpen})
	ch.Balances.Publish(models.BalanceUpdate{Asset: "USDT"})

	require.Eventually(t, func() bool {
		return archive.count() == 3 && market.count() == 3 &&
			ch.OrderUpdates.Len() == 0 && ch.Balances.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherWithoutSinksDrains(t *testing.T) {
	ch := channel.NewChannels()
	d := NewDispatcher(ch)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	ch.Snapshots.Publish(models.OrderBookMessage{Type: models.SnapshotMessage, TradingPair: "ETH-USDT"})
	ch.Diffs.Publish(models.OrderBookMessage{Type: models.DiffMessage, TradingPair: "ETH-USDT"})

	require.Eventually(t, func() bool {
		return ch.Snapshots.Len() == 0 && ch.Diffs.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	ch.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after close")
	}
}
