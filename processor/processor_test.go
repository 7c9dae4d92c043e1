package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payeerflow/internal/channel"
	"payeerflow/models"
)

func drain[T any](q *channel.Queue[T]) []T {
	var out []T
	for {
		v, ok := q.TryNext()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestOrderStatusSingleObject(t *testing.T) {
	q := channel.NewQueue[models.OrderUpdate]("orders")
	p := NewOrderStatusProcessor(q)

	raw := json.RawMessage(`{"orderId":"test_order_id","status":"New","timestamp":1620000000000}`)
	if err := p.HandleOrderStatus(context.Background(), "BTC-USDT", raw); err != nil {
		t.Fatalf("HandleOrderStatus: %v", err)
	}
	got := drain(q)
	if len(got) != 1 {
		t.Fatalf("expected 1 update, got %d", len(got))
	}
	if got[0].NewState != models.OrderStateOpen || got[0].TradingPair != "BTC-USDT" || got[0].UpdateTimestamp != 1620000000.0 {
		t.Fatalf("unexpected update: %+v", got[0])
	}
}

func TestOrderStatusPublishesOnlyTransitions(t *testing.T) {
	q := channel.NewQueue[models.OrderUpdate]("orders")
	p := NewOrderStatusProcessor(q)
	ctx := context.Background()

	payloads := []string{
		`[{"orderId":"1","status":"New"},{"orderId":"2","status":"New"}]`,
		`[{"orderId":"1","status":"New"},{"orderId":"2","status":"PartiallyFilled"}]`,
		`{"orders":[{"orderId":"1","status":"Filled"}]}`,
	}
	for _, body := range payloads {
		if err := p.HandleOrderStatus(ctx, "ETH-USDT", json.RawMessage(body)); err != nil {
			t.Fatalf("HandleOrderStatus(%s): %v", body, err)
		}
	}

	got := drain(q)
	want := []models.OrderState{models.OrderStateOpen, models.OrderStateOpen, models.OrderStatePartiallyFilled, models.OrderStateFilled}
	if len(got) != len(want) {
		t.Fatalf("expected %d updates, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].NewState != w {
			t.Errorf("update %d state=%s want %s", i, got[i].NewState, w)
		}
	}
	if p.Tracked() != 1 {
		t.Fatalf("only the partially filled order is open, tracked=%d", p.Tracked())
	}
}

func TestOrderStatusFinishedOrderReportedOnce(t *testing.T) {
	q := channel.NewQueue[models.OrderUpdate]("orders")
	p := NewOrderStatusProcessor(q)
	now := time.Unix(1620000000, 0)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	filled := json.RawMessage(`[{"orderId":"1","status":"Filled"}]`)
	for i := 0; i < 3; i++ {
		if err := p.HandleOrderStatus(ctx, "BTC-USDT", filled); err != nil {
			t.Fatalf("HandleOrderStatus: %v", err)
		}
		now = now.Add(5 * time.Second)
	}
	if got := drain(q); len(got) != 1 || got[0].NewState != models.OrderStateFilled {
		t.Fatalf("expected a single filled update, got %+v", got)
	}
	if p.Tracked() != 0 {
		t.Fatalf("finished order counted as open, tracked=%d", p.Tracked())
	}

	now = now.Add(doneRetention + time.Minute)
	other := json.RawMessage(`[{"orderId":"2","status":"New"}]`)
	if err := p.HandleOrderStatus(ctx, "BTC-USDT", other); err != nil {
		t.Fatalf("HandleOrderStatus: %v", err)
	}
	p.mu.Lock()
	_, kept := p.lastState["1"]
	p.mu.Unlock()
	if kept {
		t.Fatalf("finished order should be pruned after retention")
	}
}

func TestOrderStatusUnknownIsSkipped(t *testing.T) {
	q := channel.NewQueue[models.OrderUpdate]("orders")
	p := NewOrderStatusProcessor(q)

	raw := json.RawMessage(`[{"orderId":"1","status":"Expired"},{"orderId":"2","status":"Canceled"}]`)
	if err := p.HandleOrderStatus(context.Background(), "BTC-USDT", raw); err != nil {
		t.Fatalf("HandleOrderStatus: %v", err)
	}
	got := drain(q)
	if len(got) != 1 || got[0].ExchangeOrderID != "2" {
		t.Fatalf("unexpected updates: %+v", got)
	}
	if p.unknown.Load() != 1 {
		t.Fatalf("unknown counter=%d", p.unknown.Load())
	}
}

func TestOrderStatusMalformed(t *testing.T) {
	p := NewOrderStatusProcessor(channel.NewQueue[models.OrderUpdate]("orders"))
	if err := p.HandleOrderStatus(context.Background(), "BTC-USDT", json.RawMessage(`"oops"`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := p.HandleOrderStatus(context.Background(), "BTC-USDT", json.RawMessage(`null`)); err != nil {
		t.Fatalf("null payload should be ignored: %v", err)
	}
}

func TestBalanceProcessor(t *testing.T) {
	q := channel.NewQueue[models.BalanceUpdate]("balances")
	p := NewBalanceProcessor(q)
	at := time.Unix(1620000000, 0)
	p.now = func() time.Time { return at }

	raw := json.RawMessage(`{"balances":{"usdt":{"total":"10","available":"4"},"btc":{"total":"0.5","available":"0.5"}}}`)
	if err := p.HandleBalance(context.Background(), raw); err != nil {
		t.Fatalf("HandleBalance: %v", err)
	}
	got := drain(q)
	if len(got) != 2 || got[0].Asset != "BTC" || got[1].Asset != "USDT" {
		t.Fatalf("unexpected balances: %+v", got)
	}
	if !got[1].Available.Equal(decimal.NewFromInt(4)) || !got[0].Timestamp.Equal(at) {
		t.Fatalf("unexpected balance values: %+v", got[1])
	}
}

func TestFlattenSnapshot(t *testing.T) {
	msg := models.OrderBookMessage{
		Type:        models.SnapshotMessage,
		TradingPair: "BTC-USDT",
		UpdateID:    1620000000.0,
		Timestamp:   1620000000.0,
		Bids: []models.PriceLevel{
			{Price: decimal.RequireFromString("50000"), Amount: decimal.RequireFromString("0.01")},
			{Price: decimal.RequireFromString("49999"), Amount: decimal.Zero},
		},
		Asks: []models.PriceLevel{
			{Price: decimal.RequireFromString("51000"), Amount: decimal.RequireFromString("0.02")},
		},
	}
	rows := FlattenSnapshot(msg)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Side != "bid" || rows[0].Level != 1 || rows[0].Symbol != "BTC_USDT" || rows[0].Timestamp != 1620000000000 {
		t.Fatalf("unexpected bid row: %+v", rows[0])
	}
	if rows[1].Side != "ask" || rows[1].Price != 51000 || rows[1].Exchange != "payeer" {
		t.Fatalf("unexpected ask row: %+v", rows[1])
	}
}
