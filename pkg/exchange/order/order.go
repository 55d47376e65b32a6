package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Order is an open bilateral swap offer. The maker's SellRemaining is
// escrowed in the asset ledger for the order's whole life; it only shrinks,
// and the order is removed exactly when it reaches zero (filled) or when it
// is cancelled.
type Order struct {
	ID            common.Hash    `json:"id"`
	Maker         common.Address `json:"maker"`
	SpecificTaker common.Address `json:"specificTaker"` // zero = any eligible taker
	SellAsset     common.Address `json:"sellAsset"`
	SellOriginal  *big.Int       `json:"sellOriginal"`
	SellRemaining *big.Int       `json:"sellRemaining"`
	BuyAsset      common.Address `json:"buyAsset"`
	BuyOriginal   *big.Int       `json:"buyOriginal"`
	Expiry        int64          `json:"expiry"` // unix ms, exclusive bound
	PairID        common.Hash    `json:"pairId"`
	FrozenOnMake  bool           `json:"frozenOnMake"`
	CreatedAt     int64          `json:"createdAt"` // unix ms
	Seq           uint64         `json:"seq"`       // insertion sequence, survives restart
}

// HasSpecificTaker reports whether the order is restricted to one taker.
func (o *Order) HasSpecificTaker() bool {
	return o.SpecificTaker != (common.Address{})
}

// BuyCost returns the buy-asset cost of taking quantity units of the sell
// asset: quantity * BuyOriginal / SellOriginal with integer truncation
// toward zero, so a partial fill never costs more than its proportional
// share.
func (o *Order) BuyCost(quantity *big.Int) *big.Int {
	cost := new(big.Int).Mul(quantity, o.BuyOriginal)
	return cost.Quo(cost, o.SellOriginal)
}

// RemainingBuyAmount returns the buy amount still owed for the unfilled
// part of the order, derived proportionally from SellRemaining.
func (o *Order) RemainingBuyAmount() *big.Int {
	return o.BuyCost(o.SellRemaining)
}

// Clone returns a deep copy safe to hand to observers.
func (o *Order) Clone() *Order {
	c := *o
	c.SellOriginal = new(big.Int).Set(o.SellOriginal)
	c.SellRemaining = new(big.Int).Set(o.SellRemaining)
	c.BuyOriginal = new(big.Int).Set(o.BuyOriginal)
	return &c
}
