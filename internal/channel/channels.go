package channel

import (
	"payeerflow/logger"
	"payeerflow/models"
)

// Channels bundles the output queues of the acquisition loops.
type Channels struct {
	Snapshots    *Queue[models.OrderBookMessage]
	Diffs        *Queue[models.OrderBookMessage]
	Trades       *Queue[models.OrderBookMessage]
	OrderUpdates *Queue[models.OrderUpdate]
	Balances     *Queue[models.BalanceUpdate]

	log *logger.Log
}

func NewChannels() *Channels {
	c := &Channels{
		Snapshots:    NewQueue[models.OrderBookMessage]("snapshots"),
		Diffs:        NewQueue[models.OrderBookMessage]("diffs"),
		Trades:       NewQueue[models.OrderBookMessage]("trades"),
		OrderUpdates: NewQueue[models.OrderUpdate]("order_updates"),
		Balances:     NewQueue[models.BalanceUpdate]("balances"),
		log:          logger.GetLogger(),
	}
	c.log.WithComponent("channels").Info("output queues initialized")
	return c
}

// Lengths reports the backlog of each queue by name.
func (c *Channels) Lengths() map[string]int {
	return map[string]int{
		c.Snapshots.Name():    c.Snapshots.Len(),
		c.Diffs.Name():        c.Diffs.Len(),
		c.Trades.Name():       c.Trades.Len(),
		c.OrderUpdates.Name(): c.OrderUpdates.Len(),
		c.Balances.Name():     c.Balances.Len(),
	}
}

func (c *Channels) Close() {
	c.Snapshots.Close()
	c.Diffs.Close()
	c.Trades.Close()
	c.OrderUpdates.Close()
	c.Balances.Close()
	c.log.WithComponent("channels").Info("output queues closed")
}
