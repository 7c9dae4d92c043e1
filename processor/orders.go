package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"payeerflow/internal/channel"
	"payeerflow/internal/metrics"
	"payeerflow/logger"
	"payeerflow/models"
)

// doneRetention is how long a finished order is remembered. The exchange
// keeps listing recent orders, so a finished order must outlive its final
// update or it would be reported again on the next poll.
const doneRetention = time.Hour

type trackedOrder struct {
	state    models.OrderState
	lastSeen time.Time
}

// OrderStatusProcessor normalizes order_status payloads into OrderUpdate
// events. An update is published only when an order's state changes.
type OrderStatusProcessor struct {
	out *channel.Queue[models.OrderUpdate]
	now func() time.Time
	log *logger.Log

	mu        sync.Mutex
	lastState map[string]trackedOrder

	processed atomic.Int64
	unknown   atomic.Int64
}

func NewOrderStatusProcessor(out *channel.Queue[models.OrderUpdate]) *OrderStatusProcessor {
	return &OrderStatusProcessor{
		out:       out,
		now:       time.Now,
		log:       logger.GetLogger(),
		lastState: make(map[string]trackedOrder),
	}
}

// HandleOrderStatus accepts a single order object, a list of orders or an
// object with an "orders" list. Orders with an unrecognized status are
// logged and skipped so that one odd order cannot stall the user stream.
func (p *OrderStatusProcessor) HandleOrderStatus(ctx context.Context, pair string, raw json.RawMessage) error {
	statuses, err := decodeOrderStatuses(raw)
	if err != nil {
		return fmt.Errorf("decode order status: %w", err)
	}
	log := p.log.WithComponent("order_status_processor").WithField("pair", pair)

	published := 0
	for _, st := range statuses {
		if st.OrderID == "" {
			continue
		}
		update, err := p.toUpdate(pair, st)
		if err != nil {
			var unknown *models.UnknownOrderStatusError
			if errors.As(err, &unknown) {
				p.unknown.Add(1)
				log.WithFields(logger.Fields{"order_id": st.OrderID, "status": unknown.Status}).Warn("skipping order with unknown status")
				continue
			}
			return err
		}
		if !p.changed(update) {
			continue
		}
		p.out.Publish(update)
		metrics.IncrementOrderUpdate(string(update.NewState))
		published++
	}
	p.processed.Add(int64(len(statuses)))
	if published > 0 {
		logger.LogDataFlowEntry(log, "user_stream", "order_updates", published, "order_update")
	}
	return nil
}

func (p *OrderStatusProcessor) toUpdate(pair string, st models.OrderStatus) (models.OrderUpdate, error) {
	state, err := models.ParseOrderState(st.Status)
	if err != nil {
		return models.OrderUpdate{}, err
	}
	ts := float64(p.now().UnixMilli()) / 1000
	if st.Timestamp > 0 {
		ts = models.MsToSeconds(st.Timestamp)
	}
	return models.OrderUpdate{
		ClientOrderID:   st.ClientOrderID,
		ExchangeOrderID: st.OrderID,
		TradingPair:     pair,
		NewState:        state,
		RawStatus:       st.Status,
		UpdateTimestamp: ts,
	}, nil
}

// changed records the new state and reports whether it differs from the last
// one seen. Finished orders are kept for doneRetention after they were last
// listed.
func (p *OrderStatusProcessor) changed(u models.OrderUpdate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.pruneLocked(now)

	prev, seen := p.lastState[u.ExchangeOrderID]
	p.lastState[u.ExchangeOrderID] = trackedOrder{state: u.NewState, lastSeen: now}
	return !seen || prev.state != u.NewState
}

func (p *OrderStatusProcessor) pruneLocked(now time.Time) {
	for id, o := range p.lastState {
		if o.state.IsDone() && now.Sub(o.lastSeen) > doneRetention {
			delete(p.lastState, id)
		}
	}
}

// Tracked is the number of open orders being followed.
func (p *OrderStatusProcessor) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.lastState {
		if !o.state.IsDone() {
			n++
		}
	}
	return n
}

func decodeOrderStatuses(raw json.RawMessage) ([]models.OrderStatus, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []models.OrderStatus
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}

	var wrapped struct {
		Orders []models.OrderStatus `json:"orders"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Orders != nil {
		return wrapped.Orders, nil
	}
	var single models.OrderStatus
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []models.OrderStatus{single}, nil
}
