package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otc-labs/otcx/pkg/exchange/order"
)

// spendKey identifies a staged debit against one account's asset balance.
type spendKey struct {
	asset   common.Address
	account common.Address
}

// useKey identifies a staged draw against one delegated allowance.
type useKey struct {
	asset  common.Address
	owner  common.Address
	trader common.Address
}

// takeStage accumulates the hypothetical effects of planned fills so a
// batch can be validated as a whole before anything is applied. Quantities
// consumed from an order, balances spent by a taker and allowance drawn by
// a trader are all tracked across plans, which makes repeated references
// to the same order or the same taker within one batch see each other.
type takeStage struct {
	e         *Engine
	consumed  map[common.Hash]*big.Int
	spent     map[spendKey]*big.Int
	allowUsed map[useKey]*big.Int
}

func newTakeStage(e *Engine) *takeStage {
	return &takeStage{
		e:         e,
		consumed:  make(map[common.Hash]*big.Int),
		spent:     make(map[spendKey]*big.Int),
		allowUsed: make(map[useKey]*big.Int),
	}
}

// remaining returns the order's sell amount still open after staged fills.
func (st *takeStage) remaining(o *order.Order) *big.Int {
	rem := new(big.Int).Set(o.SellRemaining)
	if used, ok := st.consumed[o.ID]; ok {
		rem.Sub(rem, used)
	}
	return rem
}

// spendable returns the taker's available balance minus staged spends.
func (st *takeStage) spendable(asset, account common.Address) *big.Int {
	avail := st.e.ledger.AvailableBalance(asset, account)
	if used, ok := st.spent[spendKey{asset, account}]; ok {
		avail.Sub(avail, used)
	}
	return avail
}

// allowance returns the delegated allowance minus staged draws.
func (st *takeStage) allowance(asset, owner, trader common.Address) *big.Int {
	alw := st.e.ledger.AllowanceOnBehalf(asset, owner, trader)
	if used, ok := st.allowUsed[useKey{asset, owner, trader}]; ok {
		alw.Sub(alw, used)
	}
	return alw
}

func (st *takeStage) stage(pl takePlan) {
	id := pl.ord.ID
	if _, ok := st.consumed[id]; !ok {
		st.consumed[id] = new(big.Int)
	}
	st.consumed[id].Add(st.consumed[id], pl.quantity)

	sk := spendKey{pl.ord.BuyAsset, pl.taker}
	if _, ok := st.spent[sk]; !ok {
		st.spent[sk] = new(big.Int)
	}
	st.spent[sk].Add(st.spent[sk], pl.buyCost)

	if pl.delegated {
		uk := useKey{pl.ord.BuyAsset, pl.taker, pl.caller}
		if _, ok := st.allowUsed[uk]; !ok {
			st.allowUsed[uk] = new(big.Int)
		}
		st.allowUsed[uk].Add(st.allowUsed[uk], pl.buyCost)
	}
}

// takePlan is one validated fill awaiting application.
type takePlan struct {
	ord       *order.Order
	caller    common.Address
	taker     common.Address
	delegated bool
	quantity  *big.Int
	buyCost   *big.Int
}

// planTake validates one fill against current state plus the stage's
// pending effects, and records its own effects on the stage.
func (e *Engine) planTake(st *takeStage, caller common.Address, id common.Hash, onBehalf common.Address, quantity *big.Int, expiry int64) (takePlan, error) {
	o, err := e.orders.Get(id)
	if err != nil {
		return takePlan{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return takePlan{}, ErrZeroQuantity
	}

	// The pair must still exist and be active at fill time, whatever its
	// state was when the order was made.
	p, ok := e.registry.Get(o.PairID)
	if !ok {
		return takePlan{}, ErrPairNotWhitelisted
	}
	if p.Frozen {
		return takePlan{}, ErrPairFrozen
	}

	now := e.now()
	if expiry < now || o.Expiry < now {
		return takePlan{}, ErrOrderExpired
	}
	if quantity.Cmp(st.remaining(o)) > 0 {
		return takePlan{}, fmt.Errorf("%w: order %s", ErrOverfill, id.Hex())
	}

	taker, delegated, err := e.resolve(caller, onBehalf)
	if err != nil {
		return takePlan{}, err
	}
	if o.HasSpecificTaker() && o.SpecificTaker != taker {
		return takePlan{}, ErrNotSpecificTaker
	}

	buyCost := o.BuyCost(quantity)
	if st.spendable(o.BuyAsset, taker).Cmp(buyCost) < 0 {
		return takePlan{}, ErrInsufficientBuyAllowance
	}
	if delegated && st.allowance(o.BuyAsset, taker, caller).Cmp(buyCost) < 0 {
		return takePlan{}, ErrInsufficientBuyAllowance
	}

	pl := takePlan{
		ord:       o,
		caller:    caller,
		taker:     taker,
		delegated: delegated,
		quantity:  new(big.Int).Set(quantity),
		buyCost:   buyCost,
	}
	st.stage(pl)
	return pl, nil
}

// applyTake settles one planned fill: the buy cost moves from taker to
// maker, the quantity moves out of the maker's escrow to the taker, and
// the order shrinks or closes.
func (e *Engine) applyTake(pl takePlan) (TakenOrder, error) {
	o := pl.ord
	if pl.delegated {
		if err := e.ledger.UseAllowance(o.BuyAsset, pl.taker, pl.caller, pl.buyCost); err != nil {
			return TakenOrder{}, fmt.Errorf("take %s: %w", o.ID.Hex(), err)
		}
	}
	if err := e.ledger.Transfer(o.BuyAsset, pl.taker, o.Maker, pl.buyCost); err != nil {
		return TakenOrder{}, fmt.Errorf("take %s: %w", o.ID.Hex(), err)
	}
	if err := e.ledger.TransferBlocked(o.SellAsset, o.Maker, pl.taker, pl.quantity); err != nil {
		return TakenOrder{}, fmt.Errorf("take %s: %w", o.ID.Hex(), err)
	}

	remaining, err := e.orders.Reduce(o.ID, pl.quantity)
	if err != nil {
		return TakenOrder{}, fmt.Errorf("take %s: %w", o.ID.Hex(), err)
	}
	filled := remaining.Sign() == 0
	if filled {
		if err := e.orders.Remove(o.ID); err != nil {
			return TakenOrder{}, fmt.Errorf("take %s: %w", o.ID.Hex(), err)
		}
	}

	return TakenOrder{
		ID:        o.ID,
		Maker:     o.Maker,
		Taker:     pl.taker,
		Caller:    pl.caller,
		SellAsset: o.SellAsset,
		Quantity:  new(big.Int).Set(pl.quantity),
		BuyAsset:  o.BuyAsset,
		BuyCost:   new(big.Int).Set(pl.buyCost),
		Remaining: remaining,
		Filled:    filled,
	}, nil
}

// checkBatchSize enforces the configured batch bounds.
func (e *Engine) checkBatchSize(n int) error {
	if n < e.minBatch {
		return ErrTooFewOrders
	}
	if n > e.maxBatch {
		return ErrTooManyOrders
	}
	return nil
}

// TakeOrders fills several orders atomically: either every fill passes
// validation and all are applied, or nothing changes. ids, onBehalf and
// quantities are parallel; a zero onBehalf entry means the caller takes
// for itself. The same order id may appear more than once and each fill
// sees the remaining amount left by the previous ones.
func (e *Engine) TakeOrders(caller common.Address, ids []common.Hash, onBehalf []common.Address, quantities []*big.Int, expiry int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkBatchSize(len(ids)); err != nil {
		return err
	}
	if len(onBehalf) != len(ids) || len(quantities) != len(ids) {
		return ErrArrayLengthMismatch
	}

	st := newTakeStage(e)
	plans := make([]takePlan, 0, len(ids))
	for i, id := range ids {
		pl, err := e.planTake(st, caller, id, onBehalf[i], quantities[i], expiry)
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		plans = append(plans, pl)
	}

	events := make([]TakenOrder, 0, len(plans))
	for _, pl := range plans {
		ev, err := e.applyTake(pl)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	e.notifier.OrdersTaken(events)
	return nil
}

// CancelOrders cancels several orders atomically. A repeated id fails the
// whole batch, as the second occurrence would cancel a gone order.
func (e *Engine) CancelOrders(caller common.Address, ids []common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkBatchSize(len(ids)); err != nil {
		return err
	}

	seen := make(map[common.Hash]bool, len(ids))
	targets := make([]*order.Order, 0, len(ids))
	for i, id := range ids {
		if seen[id] {
			return fmt.Errorf("order %d: %w: %s", i, ErrOrderNotFound, id.Hex())
		}
		seen[id] = true
		o, err := e.orders.Get(id)
		if err != nil {
			return fmt.Errorf("order %d: %w: %s", i, ErrOrderNotFound, id.Hex())
		}
		if !e.mayCancel(caller, o.Maker) {
			return fmt.Errorf("order %d: %w", i, ErrNotEligibleOrPaused)
		}
		targets = append(targets, o)
	}

	events := make([]CancelledOrder, 0, len(targets))
	for _, o := range targets {
		ev, err := e.applyCancel(caller, o)
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	e.notifier.OrdersCancelled(events)
	return nil
}
