package payeer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"payeerflow/internal/channel"
	"payeerflow/internal/symbols"
	"payeerflow/logger"
	"payeerflow/models"
)

// Push channel names. The singular forms are accepted as aliases.
const (
	ChannelDepth  = "depth"
	ChannelTrades = "trades"
)

// UnknownChannelError is returned for push messages on an unhandled channel.
type UnknownChannelError struct {
	Channel string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown push channel %q", e.Channel)
}

// StreamParser turns pushed frames into DIFF and TRADE messages.
type StreamParser struct {
	mapper symbols.Mapper
	out    *channel.Channels
	log    *logger.Log
}

func NewStreamParser(mapper symbols.Mapper, out *channel.Channels) *StreamParser {
	return &StreamParser{mapper: mapper, out: out, log: logger.GetLogger()}
}

// ParseDiffMessage decodes one pushed order book delta.
func (p *StreamParser) ParseDiffMessage(ctx context.Context, raw []byte) (models.OrderBookMessage, error) {
	var evt models.DiffEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("decode diff: %w", err)
	}
	pair, err := p.mapper.TradingPair(ctx, evt.Pair)
	if err != nil {
		return models.OrderBookMessage{}, err
	}
	bids, err := models.Levels(evt.Bids)
	if err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("diff bids: %w", err)
	}
	asks, err := models.Levels(evt.Asks)
	if err != nil {
		return models.OrderBookMessage{}, fmt.Errorf("diff asks: %w", err)
	}
	ts := models.MsToSeconds(evt.Timestamp)
	return models.OrderBookMessage{
		Type:        models.DiffMessage,
		TradingPair: pair,
		UpdateID:    ts,
		Timestamp:   ts,
		Bids:        bids,
		Asks:        asks,
	}, nil
}

// ParseTradeMessage decodes a pushed batch of trades into one TRADE message
// per trade. The exchange sends no trade ids, so each id is the trade
// timestamp in seconds.
func (p *StreamParser) ParseTradeMessage(ctx context.Context, raw []byte) ([]models.OrderBookMessage, error) {
	var evt models.TradeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	pair, err := p.mapper.TradingPair(ctx, evt.Pair)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.OrderBookMessage, 0, len(evt.Trades))
	for _, t := range evt.Trades {
		ts := models.MsToSeconds(t.Timestamp)
		msgs = append(msgs, models.OrderBookMessage{
			Type:        models.TradeMessage,
			TradingPair: pair,
			UpdateID:    ts,
			Timestamp:   ts,
			Trade: &models.TradeContent{
				TradeID:   ts,
				TradeType: t.Type,
				Amount:    t.Amount,
				Price:     t.Price,
			},
		})
	}
	return msgs, nil
}

// HandleStreamMessage routes one pushed frame to the diff or trade queue.
// Control frames carrying an event field are ignored.
func (p *StreamParser) HandleStreamMessage(ctx context.Context, raw []byte) error {
	var env models.StreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event != "" {
		p.log.WithComponent("stream_parser").WithField("event", env.Event).Debug("control frame")
		return nil
	}

	switch strings.ToLower(env.Channel) {
	case ChannelDepth, "diff":
		msg, err := p.ParseDiffMessage(ctx, raw)
		if err != nil {
			return err
		}
		p.out.Diffs.Publish(msg)
	case ChannelTrades, "trade":
		msgs, err := p.ParseTradeMessage(ctx, raw)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			p.out.Trades.Publish(m)
		}
	default:
		return &UnknownChannelError{Channel: env.Channel}
	}
	logger.IncrementStreamMessage(len(raw))
	return nil
}
