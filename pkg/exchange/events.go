package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MadeOrder is emitted once per successful MakeOrder.
type MadeOrder struct {
	ID            common.Hash    `json:"id"`
	PairID        common.Hash    `json:"pairId"`
	Maker         common.Address `json:"maker"`
	Caller        common.Address `json:"caller"` // maker itself or its trader
	SpecificTaker common.Address `json:"specificTaker"`
	SellAsset     common.Address `json:"sellAsset"`
	SellAmount    *big.Int       `json:"sellAmount"`
	BuyAsset      common.Address `json:"buyAsset"`
	BuyAmount     *big.Int       `json:"buyAmount"`
	Expiry        int64          `json:"expiry"`
	FrozenPair    bool           `json:"frozenPair"`
}

// TakenOrder is emitted per fill and carries both economic legs: the sell
// asset released to the taker and the buy cost paid to the maker.
type TakenOrder struct {
	ID        common.Hash    `json:"id"`
	Maker     common.Address `json:"maker"`
	Taker     common.Address `json:"taker"`
	Caller    common.Address `json:"caller"` // taker itself or its trader
	SellAsset common.Address `json:"sellAsset"`
	Quantity  *big.Int       `json:"quantity"`
	BuyAsset  common.Address `json:"buyAsset"`
	BuyCost   *big.Int       `json:"buyCost"`
	Remaining *big.Int       `json:"remaining"`
	Filled    bool           `json:"filled"`
}

// CancelledOrder is emitted once per cancelled order.
type CancelledOrder struct {
	ID        common.Hash    `json:"id"`
	Maker     common.Address `json:"maker"`
	Caller    common.Address `json:"caller"`
	SellAsset common.Address `json:"sellAsset"`
	Released  *big.Int       `json:"released"` // escrow returned to the maker
}

// Notifier receives engine notifications. Implementations must not call
// back into the engine; they run inside the engine's atomic call boundary.
type Notifier interface {
	OrderMade(MadeOrder)
	OrderTaken(TakenOrder)
	OrderCancelled(CancelledOrder)
	OrdersTaken([]TakenOrder)
	OrdersCancelled([]CancelledOrder)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OrderMade(MadeOrder)              {}
func (NopNotifier) OrderTaken(TakenOrder)            {}
func (NopNotifier) OrderCancelled(CancelledOrder)    {}
func (NopNotifier) OrdersTaken([]TakenOrder)         {}
func (NopNotifier) OrdersCancelled([]CancelledOrder) {}

// MultiNotifier fans notifications out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) OrderMade(e MadeOrder) {
	for _, n := range m {
		n.OrderMade(e)
	}
}

func (m MultiNotifier) OrderTaken(e TakenOrder) {
	for _, n := range m {
		n.OrderTaken(e)
	}
}

func (m MultiNotifier) OrderCancelled(e CancelledOrder) {
	for _, n := range m {
		n.OrderCancelled(e)
	}
}

func (m MultiNotifier) OrdersTaken(es []TakenOrder) {
	for _, n := range m {
		n.OrdersTaken(es)
	}
}

func (m MultiNotifier) OrdersCancelled(es []CancelledOrder) {
	for _, n := range m {
		n.OrdersCancelled(es)
	}
}
