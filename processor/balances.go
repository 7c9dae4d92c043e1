package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"payeerflow/internal/channel"
	"payeerflow/internal/trading"
	"payeerflow/logger"
	"payeerflow/models"
)

// BalanceProcessor publishes one BalanceUpdate per asset of an account
// payload, ordered by asset.
type BalanceProcessor struct {
	out *channel.Queue[models.BalanceUpdate]
	now func() time.Time
	log *logger.Log
}

func NewBalanceProcessor(out *channel.Queue[models.BalanceUpdate]) *BalanceProcessor {
	return &BalanceProcessor{out: out, now: time.Now, log: logger.GetLogger()}
}

func (p *BalanceProcessor) HandleBalance(_ context.Context, raw json.RawMessage) error {
	var resp models.AccountResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode account: %w", err)
	}
	updates := trading.BalanceUpdates(resp, p.now())
	sort.Slice(updates, func(i, j int) bool { return updates[i].Asset < updates[j].Asset })
	for _, u := range updates {
		p.out.Publish(u)
	}
	p.log.WithComponent("balance_processor").WithField("assets", len(updates)).Debug("balances published")
	return nil
}
