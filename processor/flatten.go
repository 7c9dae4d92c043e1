package processor

import (
	"payeerflow/internal/payeer"
	"payeerflow/internal/symbols"
	"payeerflow/models"
)

// FlattenSnapshot turns a SNAPSHOT message into one row per price level.
// Levels are numbered from 1 per side. Zero price or amount levels are
// skipped.
func FlattenSnapshot(msg models.OrderBookMessage) []models.SnapshotRow {
	rows := make([]models.SnapshotRow, 0, len(msg.Bids)+len(msg.Asks))
	ts := int64(msg.Timestamp * 1000)
	sym := symbols.ToPayeer(msg.TradingPair)

	add := func(side string, levels []models.PriceLevel) {
		for i, lvl := range levels {
			if lvl.Price.IsZero() || lvl.Amount.IsZero() {
				continue
			}
			rows = append(rows, models.SnapshotRow{
				Exchange:  payeer.ExchangeName,
				Symbol:    sym,
				Timestamp: ts,
				UpdateID:  msg.UpdateID,
				Side:      side,
				Price:     lvl.Price.InexactFloat64(),
				Quantity:  lvl.Amount.InexactFloat64(),
				Level:     int32(i + 1),
			})
		}
	}
	add("bid", msg.Bids)
	add("ask", msg.Asks)
	return rows
}
