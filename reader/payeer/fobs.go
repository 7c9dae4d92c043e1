package payeer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"

	"payeerflow/config"
	"payeerflow/internal/channel"
	"payeerflow/internal/metrics"
	exchange "payeerflow/internal/payeer"
	"payeerflow/internal/rest"
	"payeerflow/internal/supervisor"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
	"payeerflow/models"
)

const orderBookComponent = "order_book_reader"

// State is the lifecycle state of an OrderBookReader.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	}
	return "UNKNOWN"
}

// PriceSource serves last traded prices.
type PriceSource interface {
	LastTradedPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error)
}

// OrderBookReader polls depth snapshots for each pair and publishes them to
// the snapshot queue. Pushed diffs and trades are handled in fobd.go.
type OrderBookReader struct {
	exec   Requester
	mapper symbols.Mapper
	pairs  []string
	out    *channel.Channels
	prices PriceSource
	runner *supervisor.Runner
	log    *logger.Log

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrderBookReader polls pairs in the given order. prices may be nil when
// GetLastTradedPrices is not needed.
func NewOrderBookReader(exec Requester, mapper symbols.Mapper, pairs []string, out *channel.Channels, prices PriceSource, cfg config.OrderBookConfig, opts ...Option) *OrderBookReader {
	r := &OrderBookReader{
		exec:   exec,
		mapper: mapper,
		pairs:  append([]string(nil), pairs...),
		out:    out,
		prices: prices,
		runner: newRunner(orderBookComponent, cfg.PollInterval, cfg.ErrorBackoff, opts),
		log:    logger.GetLogger(),
	}
	r.log.WithComponent(orderBookComponent).WithFields(logger.Fields{
		"pairs":         r.pairs,
		"poll_interval": cfg.PollInterval.String(),
		"error_backoff": cfg.ErrorBackoff.String(),
	}).Info("order book reader initialized")
	return r
}

func (r *OrderBookReader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches the polling loop in its own goroutine.
func (r *OrderBookReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateStopped {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.state = StateRunning
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		_ = r.Run(loopCtx)
		cancel()
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
	}()

	r.log.WithComponent(orderBookComponent).Info("order book reader started")
	return nil
}

// Stop cancels the loop and waits until it has exited.
func (r *OrderBookReader) Stop() {
	r.mu.Lock()
	if r.state != StateRunning {
		done := r.done
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	r.state = StateStopping
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	r.log.WithComponent(orderBookComponent).Info("stopping order book reader")
	cancel()
	<-done
	r.log.WithComponent(orderBookComponent).Info("order book reader stopped")
}

// Run drives sweeps until ctx is cancelled and returns ctx.Err().
func (r *OrderBookReader) Run(ctx context.Context) error {
	return r.runner.Run(ctx, r.sweep)
}

func (r *OrderBookReader) sweep(ctx context.Context) error {
	for _, pair := range r.pairs {
		msg, err := r.Snapshot(ctx, pair)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", pair, err)
		}
		r.out.Snapshots.Publish(msg)
		metrics.IncrementSnapshot(pair)
	}
	return nil
}

// Snapshot fetches and normalizes the current book for pair.
func (r *OrderBookReader) Snapshot(ctx context.Context, pair string) (models.OrderBookMessage, error) {
	sym, err := r.mapper.ExchangeSymbol(ctx, pair)
	if err != nil {
		return models.OrderBookMessage{}, err
	}
	raw, err := r.exec.Execute(ctx, rest.Request{
		Path:   exchange.DepthPath,
		Params: url.Values{"pair": {sym}},
	})
	if err != nil {
		return models.OrderBookMessage{}, err
	}
	logger.IncrementSnapshotRead(len(raw))

	var depth models.DepthResponse
	if err := json.Unmarshal(raw, &depth); err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("decode depth: %w", err)
	}
	return SnapshotMessage(pair, depth)
}

// SnapshotMessage builds a SNAPSHOT message from a depth response. Update id
// and timestamp are the response timestamp in seconds.
func SnapshotMessage(pair string, depth models.DepthResponse) (models.OrderBookMessage, error) {
	bids, err := models.Levels(depth.Bids)
	if err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := models.Levels(depth.Asks)
	if err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("asks: %w", err)
	}
	ts := models.MsToSeconds(depth.Timestamp)
	return models.OrderBookMessage{
		Type:        models.SnapshotMessage,
		TradingPair: pair,
		UpdateID:    ts,
		Timestamp:   ts,
		Bids:        bids,
		Asks:        asks,
	}, nil
}

// GetLastTradedPrices returns the ticker's last price per pair.
func (r *OrderBookReader) GetLastTradedPrices(ctx context.Context, pairs []string) (map[string]decimal.Decimal, error) {
	if r.prices == nil {
		return nil, fmt.Errorf("no price source configured")
	}
	return r.prices.LastTradedPrices(ctx, pairs)
}
