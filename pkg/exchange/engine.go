// Package exchange implements the order lifecycle engine of a permissioned
// bilateral exchange: pre-authorized parties post, fill and cancel orders
// swapping one fungible asset for another, with maker funds escrowed in the
// asset ledger for the order's whole life.
package exchange

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/otc-labs/otcx/pkg/exchange/asset"
	"github.com/otc-labs/otcx/pkg/exchange/order"
	"github.com/otc-labs/otcx/pkg/exchange/pair"
	"github.com/otc-labs/otcx/pkg/exchange/trader"
	"github.com/otc-labs/otcx/pkg/util"
)

// OperatorOracle answers whether an account holds the operator role. Role
// management itself lives outside the engine.
type OperatorOracle interface {
	IsOperator(addr common.Address) bool
}

// Config wires the engine's collaborators.
type Config struct {
	Registry  *pair.Registry
	Ledger    *asset.Ledger
	Orders    *order.Store
	Traders   trader.Oracle
	Operators OperatorOracle
	Notifier  Notifier
	Clock     util.Clock

	MinBatchOrders int
	MaxBatchOrders int

	Logger *zap.SugaredLogger
}

// Engine validates and executes make/take/cancel operations. Every
// state-mutating call runs under one mutex: a call either fully commits its
// order-store mutation and ledger transfers or leaves no trace. Reads are
// served concurrently by the underlying stores.
type Engine struct {
	mu sync.Mutex

	registry  *pair.Registry
	ledger    *asset.Ledger
	orders    *order.Store
	traders   trader.Oracle
	operators OperatorOracle
	notifier  Notifier
	clock     util.Clock

	minBatch int
	maxBatch int

	paused bool
	log    *zap.SugaredLogger
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		registry:  cfg.Registry,
		ledger:    cfg.Ledger,
		orders:    cfg.Orders,
		traders:   cfg.Traders,
		operators: cfg.Operators,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		minBatch:  cfg.MinBatchOrders,
		maxBatch:  cfg.MaxBatchOrders,
		log:       cfg.Logger,
	}
	if e.notifier == nil {
		e.notifier = NopNotifier{}
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	if e.minBatch <= 0 {
		e.minBatch = 2
	}
	if e.maxBatch < e.minBatch {
		e.maxBatch = 100
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	return e
}

// SetNotifier replaces the engine's notifier. Intended for wiring at
// startup, before traffic arrives.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == nil {
		n = NopNotifier{}
	}
	e.notifier = n
}

// now returns current ledger time in unix milliseconds.
func (e *Engine) now() int64 { return e.clock.Now().UnixMilli() }

// resolve maps trader.Resolve's error into the engine taxonomy.
func (e *Engine) resolve(caller, principal common.Address) (common.Address, bool, error) {
	effective, delegated, err := trader.Resolve(caller, principal, e.traders)
	if err != nil {
		return common.Address{}, false, ErrNotAuthorizedTrader
	}
	return effective, delegated, nil
}

// ==============================
// Administration
// ==============================

// Pause suspends order creation. Taking and maker-side cancellation remain
// governed by their own rules.
func (e *Engine) Pause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	e.paused = true
	e.log.Infow("exchange_paused", "operator", caller.Hex())
	return nil
}

func (e *Engine) Unpause(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	e.paused = false
	e.log.Infow("exchange_unpaused", "operator", caller.Hex())
	return nil
}

func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Mint credits funds on the ledger. Operator only.
func (e *Engine) Mint(caller, assetAddr, to common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.ledger.Mint(assetAddr, to, amount)
}

// SetWhitelisted toggles an account's trust status on an asset. Operator only.
func (e *Engine) SetWhitelisted(caller, assetAddr, account common.Address, whitelisted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.ledger.SetWhitelisted(assetAddr, account, whitelisted)
}

// ApproveOnBehalf lets an authorized trader provision the delegated
// allowance it may spend of owner's asset.
func (e *Engine) ApproveOnBehalf(caller, assetAddr, owner common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.traders == nil || !e.traders.CanActOnBehalf(caller, owner) {
		return ErrNotAuthorizedTrader
	}
	return e.ledger.ApproveOnBehalf(assetAddr, owner, caller, amount)
}

// PairAssets registers a trading pair. Operator only.
func (e *Engine) PairAssets(caller common.Address, id common.Hash, base, quote common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.registry.PairAssets(id, base, quote)
}

// DepairAssets removes a trading pair. Operator only.
func (e *Engine) DepairAssets(caller common.Address, id common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.registry.DepairAssets(id)
}

// FreezePair suspends fills on a pair. Operator only.
func (e *Engine) FreezePair(caller common.Address, id common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.registry.FreezePair(id)
}

// UnfreezePair re-enables fills on a pair. Operator only.
func (e *Engine) UnfreezePair(caller common.Address, id common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.operators == nil || !e.operators.IsOperator(caller) {
		return ErrNotOperator
	}
	return e.registry.UnfreezePair(id)
}

// ==============================
// Order lifecycle
// ==============================

// MakeOrderRequest carries the parameters of one MakeOrder call.
type MakeOrderRequest struct {
	ID            common.Hash
	SpecificTaker common.Address // zero = any eligible taker
	Principal     common.Address // zero = caller acts for itself
	SellAsset     common.Address
	SellAmount    *big.Int
	BuyAsset      common.Address
	BuyAmount     *big.Int
	Expiry        int64 // unix ms, exclusive
}

// MakeOrder validates and creates a new order, escrowing the maker's sell
// amount. Preconditions are checked in a fixed order and the first
// violation is returned; no state changes before all checks pass.
func (e *Engine) MakeOrder(caller common.Address, req MakeOrderRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if e.paused {
		return ErrPaused
	}
	if req.Expiry <= now {
		return fmt.Errorf("%w: expiry %d is not in the future", ErrOrderExpired, req.Expiry)
	}

	// Frozen pairs still accept new orders; only taking is blocked. The
	// freeze state at creation is recorded on the order.
	p, ok := e.registry.LookupAssets(req.SellAsset, req.BuyAsset)
	if !ok {
		return ErrPairNotWhitelisted
	}

	maker, delegated, err := e.resolve(caller, req.Principal)
	if err != nil {
		return err
	}
	if req.SpecificTaker != (common.Address{}) && req.SpecificTaker == maker {
		return ErrSelfOrder
	}
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return ErrEmptySellAmount
	}
	if req.BuyAmount == nil || req.BuyAmount.Sign() <= 0 {
		return ErrEmptyBuyAmount
	}
	if e.ledger.AvailableBalance(req.SellAsset, maker).Cmp(req.SellAmount) < 0 {
		return ErrInsufficientBalance
	}
	if delegated {
		if e.ledger.AllowanceOnBehalf(req.SellAsset, maker, caller).Cmp(req.SellAmount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	if !e.ledger.IsWhitelisted(req.SellAsset, maker) || !e.ledger.IsWhitelisted(req.BuyAsset, maker) {
		return ErrMakerNotWhitelisted
	}
	if req.SpecificTaker != (common.Address{}) && !e.ledger.IsWhitelisted(req.SellAsset, req.SpecificTaker) {
		return ErrTakerNotWhitelisted
	}
	if e.orders.Has(req.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderID, req.ID.Hex())
	}

	// Effects. All inputs were validated above; a ledger failure here
	// means corrupted state and is surfaced as-is.
	if delegated {
		if err := e.ledger.UseAllowance(req.SellAsset, maker, caller, req.SellAmount); err != nil {
			return fmt.Errorf("make %s: %w", req.ID.Hex(), err)
		}
	}
	if err := e.ledger.Block(req.SellAsset, maker, req.SellAmount); err != nil {
		return fmt.Errorf("make %s: %w", req.ID.Hex(), err)
	}

	o := &order.Order{
		ID:            req.ID,
		Maker:         maker,
		SpecificTaker: req.SpecificTaker,
		SellAsset:     req.SellAsset,
		SellOriginal:  new(big.Int).Set(req.SellAmount),
		SellRemaining: new(big.Int).Set(req.SellAmount),
		BuyAsset:      req.BuyAsset,
		BuyOriginal:   new(big.Int).Set(req.BuyAmount),
		Expiry:        req.Expiry,
		PairID:        p.ID,
		FrozenOnMake:  p.Frozen,
		CreatedAt:     now,
	}
	if err := e.orders.Insert(o); err != nil {
		return fmt.Errorf("make %s: %w", req.ID.Hex(), err)
	}

	e.notifier.OrderMade(MadeOrder{
		ID:            o.ID,
		PairID:        o.PairID,
		Maker:         maker,
		Caller:        caller,
		SpecificTaker: o.SpecificTaker,
		SellAsset:     o.SellAsset,
		SellAmount:    new(big.Int).Set(o.SellOriginal),
		BuyAsset:      o.BuyAsset,
		BuyAmount:     new(big.Int).Set(o.BuyOriginal),
		Expiry:        o.Expiry,
		FrozenPair:    o.FrozenOnMake,
	})
	return nil
}

// TakeOrder fills quantity units of an open order. A partial fill leaves
// the order open with its remaining amount reduced; a full fill removes it.
func (e *Engine) TakeOrder(caller common.Address, id common.Hash, onBehalf common.Address, quantity *big.Int, expiry int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := newTakeStage(e)
	pl, err := e.planTake(st, caller, id, onBehalf, quantity, expiry)
	if err != nil {
		return err
	}
	ev, err := e.applyTake(pl)
	if err != nil {
		return err
	}
	e.notifier.OrderTaken(ev)
	return nil
}

// CancelOrder removes an order and releases its remaining escrow back to
// the maker. Cancellation works regardless of pair freeze state: freezing
// blocks new economic activity, not exit.
func (e *Engine) CancelOrder(caller common.Address, id common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.orders.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	if !e.mayCancel(caller, o.Maker) {
		return ErrNotEligibleOrPaused
	}

	ev, err := e.applyCancel(caller, o)
	if err != nil {
		return err
	}
	e.notifier.OrderCancelled(ev)
	return nil
}

// mayCancel reports whether caller may cancel an order owned by maker:
// the maker itself, an authorized trader for the maker, or an operator
// override while the exchange is not paused. Callers never learn which
// branch failed (see ErrNotEligibleOrPaused).
func (e *Engine) mayCancel(caller, maker common.Address) bool {
	if caller == maker {
		return true
	}
	if e.traders != nil && e.traders.CanActOnBehalf(caller, maker) {
		return true
	}
	if e.operators != nil && e.operators.IsOperator(caller) && !e.paused {
		return true
	}
	return false
}

// applyCancel releases the order's escrow and removes it.
func (e *Engine) applyCancel(caller common.Address, o *order.Order) (CancelledOrder, error) {
	released := new(big.Int).Set(o.SellRemaining)
	if err := e.ledger.Unblock(o.SellAsset, o.Maker, released); err != nil {
		return CancelledOrder{}, fmt.Errorf("cancel %s: %w", o.ID.Hex(), err)
	}
	if err := e.orders.Remove(o.ID); err != nil {
		return CancelledOrder{}, fmt.Errorf("cancel %s: %w", o.ID.Hex(), err)
	}
	return CancelledOrder{
		ID:        o.ID,
		Maker:     o.Maker,
		Caller:    caller,
		SellAsset: o.SellAsset,
		Released:  released,
	}, nil
}

// ==============================
// Observer views
// ==============================

// GetOrderCount returns the number of open orders.
func (e *Engine) GetOrderCount() int { return e.orders.Count() }

// GetIdentifierAt returns the order id at the given enumeration position.
func (e *Engine) GetIdentifierAt(i int) (common.Hash, error) { return e.orders.IDAt(i) }

// GetOrder returns a copy of an open order.
func (e *Engine) GetOrder(id common.Hash) (*order.Order, error) {
	o, err := e.orders.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id.Hex())
	}
	return o, nil
}

// Orders returns copies of all open orders.
func (e *Engine) Orders() []*order.Order { return e.orders.List() }

// Pairs exposes the read side of the pair registry.
func (e *Engine) Pairs() *pair.Registry { return e.registry }

// Ledger exposes the read side of the asset ledger.
func (e *Engine) Ledger() *asset.Ledger { return e.ledger }
