// Package notify provides exchange.Notifier sinks: structured logging and
// Kafka publication of order lifecycle events.
package notify

import (
	"go.uber.org/zap"

	"github.com/otc-labs/otcx/pkg/exchange"
)

// LogNotifier writes every order event to a structured logger.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) OrderMade(e exchange.MadeOrder) {
	n.log.Infow("order_made",
		"id", e.ID.Hex(),
		"maker", e.Maker.Hex(),
		"caller", e.Caller.Hex(),
		"sellAsset", e.SellAsset.Hex(),
		"sellAmount", e.SellAmount.String(),
		"buyAsset", e.BuyAsset.Hex(),
		"buyAmount", e.BuyAmount.String(),
		"expiry", e.Expiry,
		"frozenPair", e.FrozenPair,
	)
}

func (n *LogNotifier) OrderTaken(e exchange.TakenOrder) {
	n.log.Infow("order_taken",
		"id", e.ID.Hex(),
		"maker", e.Maker.Hex(),
		"taker", e.Taker.Hex(),
		"quantity", e.Quantity.String(),
		"buyCost", e.BuyCost.String(),
		"remaining", e.Remaining.String(),
		"filled", e.Filled,
	)
}

func (n *LogNotifier) OrderCancelled(e exchange.CancelledOrder) {
	n.log.Infow("order_cancelled",
		"id", e.ID.Hex(),
		"maker", e.Maker.Hex(),
		"caller", e.Caller.Hex(),
		"released", e.Released.String(),
	)
}

func (n *LogNotifier) OrdersTaken(es []exchange.TakenOrder) {
	for _, e := range es {
		n.OrderTaken(e)
	}
}

func (n *LogNotifier) OrdersCancelled(es []exchange.CancelledOrder) {
	for _, e := range es {
		n.OrderCancelled(e)
	}
}
