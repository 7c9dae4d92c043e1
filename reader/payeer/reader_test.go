package payeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payeerflow/config"
	"payeerflow/internal/channel"
	"payeerflow/internal/rest"
	"payeerflow/internal/supervisor"
	"payeerflow/internal/symbols"
	"payeerflow/models"
)

type respondFunc func(req rest.Request, call int) (json.RawMessage, error)

type fakeExec struct {
	mu      sync.Mutex
	calls   []rest.Request
	respond respondFunc
}

func (f *fakeExec) Execute(_ context.Context, req rest.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(req, n)
}

func (f *fakeExec) recorded() []rest.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rest.Request(nil), f.calls...)
}

type decisionLog struct {
	mu        sync.Mutex
	decisions []supervisor.Decision
}

func (d *decisionLog) observe(_ string, dec supervisor.Decision, _ error) {
	d.mu.Lock()
	d.decisions = append(d.decisions, dec)
	d.mu.Unlock()
}

func (d *decisionLog) snapshot() []supervisor.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]supervisor.Decision(nil), d.decisions...)
}

const depthBody = `{"timestamp":1620000000000,"bids":[["50000.0","0.01"]],"asks":[["51000.0","0.01"]]}`

var testPairs = []string{"BTC-USDT", "ETH-USDT"}

func fastOrderBookConfig() config.OrderBookConfig {
	return config.OrderBookConfig{Enabled: true, PollInterval: 5 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}
}

func newTestReader(exec Requester, opts ...Option) (*OrderBookReader, *channel.Channels) {
	out := channel.NewChannels()
	r := NewOrderBookReader(exec, symbols.NewStaticMapper(testPairs), testPairs, out, nil, fastOrderBookConfig(), opts...)
	return r, out
}

func TestSnapshotRoundTrip(t *testing.T) {
	exec := &fakeExec{respond: func(req rest.Request, _ int) (json.RawMessage, error) {
		assert.Equal(t, "depth", req.Path)
		assert.Equal(t, "BTC_USDT", req.Params.Get("pair"))
		assert.False(t, req.Private)
		return json.RawMessage(depthBody), nil
	}}
	r, _ := newTestReader(exec)

	msg, err := r.Snapshot(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotMessage, msg.Type)
	assert.Equal(t, "BTC-USDT", msg.TradingPair)
	assert.Equal(t, 1620000000.0, msg.UpdateID)
	assert.Equal(t, 1620000000.0, msg.Timestamp)
	require.Len(t, msg.Bids, 1)
	require.Len(t, msg.Asks, 1)
	assert.Equal(t, "50000", msg.Bids[0].Price.String())
	assert.Equal(t, "0.01", msg.Bids[0].Amount.String())
	assert.Equal(t, "51000", msg.Asks[0].Price.String())
}

func TestSnapshotUnknownPair(t *testing.T) {
	exec := &fakeExec{respond: func(rest.Request, int) (json.RawMessage, error) {
		t.Fatal("no request expected")
		return nil, nil
	}}
	r, _ := newTestReader(exec)
	_, err := r.Snapshot(context.Background(), "DOGE-USDT")
	var unknown *symbols.UnknownSymbolError
	assert.True(t, errors.As(err, &unknown))
}

func TestSweepPublishesPairsInOrder(t *testing.T) {
	exec := &fakeExec{respond: func(rest.Request, int) (json.RawMessage, error) {
		return json.RawMessage(depthBody), nil
	}}
	r, out := newTestReader(exec)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRunning, r.State())
	require.Error(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return out.Snapshots.Len() >= 4 }, time.Second, time.Millisecond)
	r.Stop()
	assert.Equal(t, StateStopped, r.State())

	calls := exec.recorded()
	require.GreaterOrEqual(t, len(calls), 4)
	for i, want := range []string{"BTC_USDT", "ETH_USDT", "BTC_USDT", "ETH_USDT"} {
		assert.Equal(t, want, calls[i].Params.Get("pair"))
	}
	first, ok := out.Snapshots.TryNext()
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT", first.TradingPair)
}

func TestOrderBookLoopBacksOffAndRecovers(t *testing.T) {
	exec := &fakeExec{respond: func(_ rest.Request, call int) (json.RawMessage, error) {
		if call == 1 {
			return nil, &rest.ExchangeError{StatusCode: 500, Code: "500", Message: "boom"}
		}
		return json.RawMessage(depthBody), nil
	}}
	decisions := &decisionLog{}
	r, out := newTestReader(exec, WithStepObserver(decisions.observe))

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return len(decisions.snapshot()) >= 2 }, time.Second, time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, out.Snapshots.Len(), 2)
	got := decisions.snapshot()
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, supervisor.Backoff, got[0])
	assert.Equal(t, supervisor.Continue, got[1])
}

func TestOrderBookLoopPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExec{respond: func(rest.Request, int) (json.RawMessage, error) {
		cancel()
		return nil, ctx.Err()
	}}
	r, out := newTestReader(exec)

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, exec.recorded(), 1)
	assert.Equal(t, 0, out.Snapshots.Len())
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	r, _ := newTestReader(&fakeExec{})
	r.Stop()
	assert.Equal(t, StateStopped, r.State())
}

func TestParseDiffMessage(t *testing.T) {
	p := NewStreamParser(symbols.NewStaticMapper(testPairs), channel.NewChannels())
	raw := []byte(`{"pair":"BTC_USDT","timestamp":1620000000500,"bids":[["50000","1"]],"asks":[]}`)

	msg, err := p.ParseDiffMessage(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, models.DiffMessage, msg.Type)
	assert.Equal(t, "BTC-USDT", msg.TradingPair)
	assert.Equal(t, 1620000000.5, msg.UpdateID)
	assert.Len(t, msg.Bids, 1)
	assert.Empty(t, msg.Asks)
}

func TestParseTradeMessageCollidingIDs(t *testing.T) {
	p := NewStreamParser(symbols.NewStaticMapper(testPairs), channel.NewChannels())
	raw := []byte(`{"pair":"ETH_USDT","trades":[
		{"timestamp":1620000000000,"type":"buy","amount":"0.5","price":"3000.1"},
		{"timestamp":1620000000000,"type":2,"amount":"1","price":"3000"}]}`)

	msgs, err := p.ParseTradeMessage(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1620000000.0, msgs[0].Trade.TradeID)
	assert.Equal(t, msgs[0].Trade.TradeID, msgs[1].Trade.TradeID)
	assert.Equal(t, models.TradeTypeBuy, msgs[0].Trade.TradeType)
	assert.Equal(t, models.TradeTypeSell, msgs[1].Trade.TradeType)
	assert.Equal(t, "3000.1", msgs[0].Trade.Price.String())
	assert.Equal(t, "ETH-USDT", msgs[1].TradingPair)
}

func TestHandleStreamMessageRoutes(t *testing.T) {
	out := channel.NewChannels()
	p := NewStreamParser(symbols.NewStaticMapper(testPairs), out)
	ctx := context.Background()

	require.NoError(t, p.HandleStreamMessage(ctx, []byte(`{"channel":"depth","pair":"BTC_USDT","timestamp":1,"bids":[],"asks":[]}`)))
	require.NoError(t, p.HandleStreamMessage(ctx, []byte(`{"channel":"trades","pair":"BTC_USDT","trades":[{"timestamp":1,"type":1,"amount":"1","price":"1"}]}`)))
	require.NoError(t, p.HandleStreamMessage(ctx, []byte(`{"event":"subscribed"}`)))
	assert.Equal(t, 1, out.Diffs.Len())
	assert.Equal(t, 1, out.Trades.Len())

	err := p.HandleStreamMessage(ctx, []byte(`{"channel":"candles"}`))
	var unknown *UnknownChannelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "candles", unknown.Channel)

	err = p.HandleStreamMessage(ctx, []byte(`{"channel":"depth","pair":"XRP_USDT","timestamp":1}`))
	var unknownSym *symbols.UnknownSymbolError
	assert.True(t, errors.As(err, &unknownSym))
}

type recordingHandlers struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (h *recordingHandlers) HandleOrderStatus(_ context.Context, pair string, raw json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "orders:"+pair)
	return h.fail
}

func (h *recordingHandlers) HandleBalance(_ context.Context, raw json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "balance")
	return nil
}

func (h *recordingHandlers) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func fastUserConfig() config.UserStreamConfig {
	return config.UserStreamConfig{Enabled: true, PollInterval: 5 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}
}

func TestUserStreamOrdering(t *testing.T) {
	exec := &fakeExec{respond: func(req rest.Request, _ int) (json.RawMessage, error) {
		assert.True(t, req.Private)
		return json.RawMessage(`{}`), nil
	}}
	h := &recordingHandlers{}
	r := NewUserStreamReader(exec, symbols.NewStaticMapper(testPairs), testPairs, h, h, fastUserConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(h.snapshot()) >= 6 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []string{"orders:BTC-USDT", "orders:ETH-USDT", "balance"}, h.snapshot()[:3])
	calls := exec.recorded()
	assert.Equal(t, "order_status", calls[0].Path)
	assert.Equal(t, "BTC_USDT", calls[0].Params.Get("symbol"))
	assert.Equal(t, "ETH_USDT", calls[1].Params.Get("symbol"))
	assert.Equal(t, "account", calls[2].Path)
}

func TestUserStreamHandlerErrorBacksOff(t *testing.T) {
	exec := &fakeExec{respond: func(rest.Request, int) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}}
	h := &recordingHandlers{fail: fmt.Errorf("unknown order status")}
	decisions := &decisionLog{}
	r := NewUserStreamReader(exec, symbols.NewStaticMapper(testPairs), testPairs, h, h, fastUserConfig(), WithStepObserver(decisions.observe))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(decisions.snapshot()) >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	for _, d := range decisions.snapshot() {
		if d != supervisor.Stop {
			assert.Equal(t, supervisor.Backoff, d)
		}
	}
	assert.NotContains(t, h.snapshot(), "balance")
}

func TestUserStreamPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExec{respond: func(rest.Request, int) (json.RawMessage, error) {
		cancel()
		return nil, context.Canceled
	}}
	h := &recordingHandlers{}
	r := NewUserStreamReader(exec, symbols.NewStaticMapper(testPairs), testPairs, h, h, fastUserConfig())

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Len(t, exec.recorded(), 1)
	assert.Empty(t, h.snapshot())
}
