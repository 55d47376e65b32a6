package exchange

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otc-labs/otcx/pkg/exchange/asset"
	"github.com/otc-labs/otcx/pkg/exchange/order"
	"github.com/otc-labs/otcx/pkg/exchange/pair"
	"github.com/otc-labs/otcx/pkg/exchange/trader"
	"github.com/otc-labs/otcx/pkg/util"
)

var (
	gold   = common.Address{0x01}
	silver = common.Address{0x02}
	copper = common.Address{0x03}

	operator = common.Address{0x0f}
	alice    = common.Address{0xa1} // maker in most tests
	bob      = common.Address{0xb2} // taker in most tests
	tina     = common.Address{0x77} // authorized trader
	mallory  = common.Address{0xee} // holds no role

	goldSilver = pair.DeriveID(gold, silver)

	startTime = time.UnixMilli(1_000_000)
	farFuture = int64(100_000_000)
)

// recordingNotifier captures engine events for assertions.
type recordingNotifier struct {
	made             []MadeOrder
	taken            []TakenOrder
	cancelled        []CancelledOrder
	takenBatches     [][]TakenOrder
	cancelledBatches [][]CancelledOrder
}

func (r *recordingNotifier) OrderMade(e MadeOrder)           { r.made = append(r.made, e) }
func (r *recordingNotifier) OrderTaken(e TakenOrder)         { r.taken = append(r.taken, e) }
func (r *recordingNotifier) OrderCancelled(e CancelledOrder) { r.cancelled = append(r.cancelled, e) }
func (r *recordingNotifier) OrdersTaken(es []TakenOrder) {
	r.takenBatches = append(r.takenBatches, es)
}
func (r *recordingNotifier) OrdersCancelled(es []CancelledOrder) {
	r.cancelledBatches = append(r.cancelledBatches, es)
}

type testEnv struct {
	engine *Engine
	ledger *asset.Ledger
	roles  *trader.Operators
	clock  *util.ManualClock
	events *recordingNotifier
}

// newTestEnv builds an in-memory exchange with one registered pair,
// funded and whitelisted maker/taker, an operator and a trader.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger, err := asset.NewLedger(nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	registry, err := pair.NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	orders, err := order.NewStore(nil)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}

	roles := trader.NewOperators()
	roles.AddOperator(operator)
	roles.AddTrader(tina)

	clock := util.NewManualClock(startTime)
	events := &recordingNotifier{}

	env := &testEnv{
		engine: NewEngine(Config{
			Registry:  registry,
			Ledger:    ledger,
			Orders:    orders,
			Traders:   roles,
			Operators: roles,
			Notifier:  events,
			Clock:     clock,
		}),
		ledger: ledger,
		roles:  roles,
		clock:  clock,
		events: events,
	}

	if err := env.engine.PairAssets(operator, goldSilver, gold, silver); err != nil {
		t.Fatalf("pair assets: %v", err)
	}
	for _, acct := range []common.Address{alice, bob} {
		env.mint(t, gold, acct, 1000)
		env.mint(t, silver, acct, 1000)
		env.whitelist(t, gold, acct)
		env.whitelist(t, silver, acct)
	}
	return env
}

func (env *testEnv) mint(t *testing.T, assetAddr, to common.Address, amount int64) {
	t.Helper()
	if err := env.engine.Mint(operator, assetAddr, to, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (env *testEnv) whitelist(t *testing.T, assetAddr, account common.Address) {
	t.Helper()
	if err := env.engine.SetWhitelisted(operator, assetAddr, account, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
}

// sellGold returns a request for alice selling sell gold for buy silver.
func sellGold(id byte, sell, buy int64) MakeOrderRequest {
	return MakeOrderRequest{
		ID:         common.Hash{id},
		SellAsset:  gold,
		SellAmount: big.NewInt(sell),
		BuyAsset:   silver,
		BuyAmount:  big.NewInt(buy),
		Expiry:     farFuture,
	}
}

func (env *testEnv) makeOrder(t *testing.T, id byte, sell, buy int64) common.Hash {
	t.Helper()
	req := sellGold(id, sell, buy)
	if err := env.engine.MakeOrder(alice, req); err != nil {
		t.Fatalf("make order: %v", err)
	}
	return req.ID
}

func (env *testEnv) available(assetAddr, holder common.Address) int64 {
	return env.ledger.AvailableBalance(assetAddr, holder).Int64()
}

func (env *testEnv) blocked(assetAddr, holder common.Address) int64 {
	return env.ledger.BlockedBalance(assetAddr, holder).Int64()
}

// ==============================
// MakeOrder
// ==============================

func TestMakeOrderEscrowsFunds(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	if got := env.available(gold, alice); got != 900 {
		t.Errorf("alice available gold = %d, want 900", got)
	}
	if got := env.blocked(gold, alice); got != 100 {
		t.Errorf("alice blocked gold = %d, want 100", got)
	}

	o, err := env.engine.GetOrder(id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Maker != alice {
		t.Errorf("maker = %s, want alice", o.Maker.Hex())
	}
	if o.SellRemaining.Int64() != 100 {
		t.Errorf("remaining = %s, want 100", o.SellRemaining)
	}
	if o.PairID != goldSilver {
		t.Errorf("pair id = %s, want %s", o.PairID.Hex(), goldSilver.Hex())
	}
	if o.FrozenOnMake {
		t.Error("pair was not frozen at creation")
	}

	if len(env.events.made) != 1 {
		t.Fatalf("expected 1 made event, got %d", len(env.events.made))
	}
	if env.events.made[0].ID != id {
		t.Errorf("event id = %s", env.events.made[0].ID.Hex())
	}
}

func TestMakeOrderValidation(t *testing.T) {
	tests := []struct {
		name    string
		prep    func(t *testing.T, env *testEnv)
		mutate  func(req *MakeOrderRequest)
		caller  common.Address
		wantErr error
	}{
		{
			name: "paused exchange",
			prep: func(t *testing.T, env *testEnv) {
				if err := env.engine.Pause(operator); err != nil {
					t.Fatalf("pause: %v", err)
				}
			},
			wantErr: ErrPaused,
		},
		{
			name:    "expiry in the past",
			mutate:  func(req *MakeOrderRequest) { req.Expiry = startTime.UnixMilli() - 1 },
			wantErr: ErrOrderExpired,
		},
		{
			name:    "expiry exactly now",
			mutate:  func(req *MakeOrderRequest) { req.Expiry = startTime.UnixMilli() },
			wantErr: ErrOrderExpired,
		},
		{
			name:    "unregistered pair",
			mutate:  func(req *MakeOrderRequest) { req.BuyAsset = copper },
			wantErr: ErrPairNotWhitelisted,
		},
		{
			name:    "specific taker is the maker",
			mutate:  func(req *MakeOrderRequest) { req.SpecificTaker = alice },
			wantErr: ErrSelfOrder,
		},
		{
			name:    "zero sell amount",
			mutate:  func(req *MakeOrderRequest) { req.SellAmount = big.NewInt(0) },
			wantErr: ErrEmptySellAmount,
		},
		{
			name:    "zero buy amount",
			mutate:  func(req *MakeOrderRequest) { req.BuyAmount = big.NewInt(0) },
			wantErr: ErrEmptyBuyAmount,
		},
		{
			name:    "sell exceeds balance",
			mutate:  func(req *MakeOrderRequest) { req.SellAmount = big.NewInt(1001) },
			wantErr: ErrInsufficientBalance,
		},
		{
			name: "maker dropped from buy asset whitelist",
			prep: func(t *testing.T, env *testEnv) {
				if err := env.engine.SetWhitelisted(operator, silver, alice, false); err != nil {
					t.Fatalf("unwhitelist: %v", err)
				}
			},
			wantErr: ErrMakerNotWhitelisted,
		},
		{
			name:    "specific taker not on sell asset whitelist",
			mutate:  func(req *MakeOrderRequest) { req.SpecificTaker = mallory },
			wantErr: ErrTakerNotWhitelisted,
		},
		{
			name:    "unauthorized caller names a principal",
			caller:  mallory,
			mutate:  func(req *MakeOrderRequest) { req.Principal = alice },
			wantErr: ErrNotAuthorizedTrader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.prep != nil {
				tt.prep(t, env)
			}
			req := sellGold(1, 100, 200)
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			caller := tt.caller
			if caller == (common.Address{}) {
				caller = alice
			}
			if err := env.engine.MakeOrder(caller, req); !errors.Is(err, tt.wantErr) {
				t.Errorf("MakeOrder err = %v, want %v", err, tt.wantErr)
			}
			if env.engine.GetOrderCount() != 0 {
				t.Error("rejected make left an order behind")
			}
			if got := env.blocked(gold, alice); got != 0 {
				t.Errorf("rejected make escrowed %d gold", got)
			}
		})
	}
}

func TestMakeOrderDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)

	err := env.engine.MakeOrder(alice, sellGold(1, 50, 50))
	if !errors.Is(err, ErrDuplicateOrderID) {
		t.Errorf("expected ErrDuplicateOrderID, got %v", err)
	}
	if got := env.blocked(gold, alice); got != 100 {
		t.Errorf("blocked gold = %d, want 100", got)
	}
}

func TestMakeOrderDelegated(t *testing.T) {
	env := newTestEnv(t)

	req := sellGold(1, 100, 200)
	req.Principal = alice

	// Without a provisioned allowance the trader cannot commit the
	// maker's funds.
	if err := env.engine.MakeOrder(tina, req); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := env.engine.ApproveOnBehalf(tina, gold, alice, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.engine.MakeOrder(tina, req); err != nil {
		t.Fatalf("delegated make: %v", err)
	}

	// The escrow is the maker's and the allowance shrank by the use.
	if got := env.blocked(gold, alice); got != 100 {
		t.Errorf("alice blocked gold = %d, want 100", got)
	}
	if got := env.ledger.AllowanceOnBehalf(gold, alice, tina).Int64(); got != 50 {
		t.Errorf("allowance = %d, want 50", got)
	}

	o, err := env.engine.GetOrder(req.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Maker != alice {
		t.Errorf("maker = %s, want the principal", o.Maker.Hex())
	}
}

// ==============================
// TakeOrder
// ==============================

func TestTakeOrderPartialThenFull(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(40), farFuture); err != nil {
		t.Fatalf("partial take: %v", err)
	}

	// 40 gold cost 40*200/100 = 80 silver.
	if got := env.available(gold, bob); got != 1040 {
		t.Errorf("bob gold = %d, want 1040", got)
	}
	if got := env.available(silver, bob); got != 920 {
		t.Errorf("bob silver = %d, want 920", got)
	}
	if got := env.available(silver, alice); got != 1080 {
		t.Errorf("alice silver = %d, want 1080", got)
	}
	if got := env.blocked(gold, alice); got != 60 {
		t.Errorf("alice blocked gold = %d, want 60", got)
	}

	o, _ := env.engine.GetOrder(id)
	if o.SellRemaining.Int64() != 60 {
		t.Errorf("remaining = %s, want 60", o.SellRemaining)
	}
	if len(env.events.taken) != 1 || env.events.taken[0].Filled {
		t.Error("expected one unfilled take event")
	}

	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(60), farFuture); err != nil {
		t.Fatalf("closing take: %v", err)
	}
	if _, err := env.engine.GetOrder(id); !errors.Is(err, ErrOrderNotFound) {
		t.Error("expected fully taken order to be gone")
	}
	if got := env.blocked(gold, alice); got != 0 {
		t.Errorf("alice blocked gold = %d, want 0", got)
	}
	if len(env.events.taken) != 2 || !env.events.taken[1].Filled {
		t.Error("expected the second take event to be marked filled")
	}
}

// TestTakeOrderFloorRounding pins down the cost arithmetic: the buy cost
// of a partial fill rounds down, so a taker slicing an order thinly pays
// slightly less in total than the order's full price.
func TestTakeOrderFloorRounding(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 3, 10)

	for i := 0; i < 3; i++ {
		if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(1), farFuture); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
	}

	// Each unit cost floor(1*10/3) = 3, so alice received 9, not 10.
	if got := env.available(silver, alice); got != 1009 {
		t.Errorf("alice silver = %d, want 1009", got)
	}
	if got := env.available(gold, bob); got != 1003 {
		t.Errorf("bob gold = %d, want 1003", got)
	}
	if _, err := env.engine.GetOrder(id); !errors.Is(err, ErrOrderNotFound) {
		t.Error("expected order closed after full quantity taken")
	}
}

func TestTakeOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	takerOnly := env.makeSpecificTakerOrder(t, 2, bob)

	tests := []struct {
		name     string
		id       common.Hash
		caller   common.Address
		quantity *big.Int
		expiry   int64
		prep     func(t *testing.T)
		wantErr  error
	}{
		{
			name: "unknown order", id: common.Hash{0xff},
			quantity: big.NewInt(1), expiry: farFuture,
			wantErr: ErrOrderNotFound,
		},
		{
			name: "zero quantity", id: id,
			quantity: big.NewInt(0), expiry: farFuture,
			wantErr: ErrZeroQuantity,
		},
		{
			name: "overfill", id: id,
			quantity: big.NewInt(101), expiry: farFuture,
			wantErr: ErrOverfill,
		},
		{
			name: "caller deadline passed", id: id,
			quantity: big.NewInt(1), expiry: startTime.UnixMilli() - 1,
			wantErr: ErrOrderExpired,
		},
		{
			name: "order expired", id: id,
			quantity: big.NewInt(1), expiry: farFuture + 2,
			prep: func(t *testing.T) {
				env.clock.Set(time.UnixMilli(farFuture + 1))
			},
			wantErr: ErrOrderExpired,
		},
		{
			name: "wrong specific taker", id: takerOnly,
			caller: mallory, quantity: big.NewInt(1), expiry: farFuture,
			wantErr: ErrNotSpecificTaker,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.clock.Set(startTime)
			if tt.prep != nil {
				tt.prep(t)
			}
			caller := tt.caller
			if caller == (common.Address{}) {
				caller = bob
			}
			err := env.engine.TakeOrder(caller, tt.id, common.Address{}, tt.quantity, tt.expiry)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("TakeOrder err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestTakeOrderAtExpiryBoundary pins down the expiry comparison: the expiry
// instant itself is still valid, only a later clock invalidates.
func TestTakeOrderAtExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	env.clock.Set(time.UnixMilli(farFuture))
	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(10), farFuture); err != nil {
		t.Fatalf("take at expiry instant: %v", err)
	}

	env.clock.Advance(time.Millisecond)
	err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(10), farFuture+5)
	if !errors.Is(err, ErrOrderExpired) {
		t.Errorf("take past expiry err = %v, want ErrOrderExpired", err)
	}
}

// TestConcurrentObserversDuringFills runs read-only enumeration alongside a
// taker filling the order one unit at a time. Run under -race.
func TestConcurrentObserversDuringFills(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 200, 400)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, o := range env.engine.Orders() {
					_ = o.SellRemaining.String()
				}
				if o, err := env.engine.GetOrder(id); err == nil {
					_ = o.RemainingBuyAmount()
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(1), farFuture); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()

	o, err := env.engine.GetOrder(id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.SellRemaining.Int64() != 100 {
		t.Errorf("remaining = %s, want 100", o.SellRemaining)
	}
}

// makeSpecificTakerOrder posts an order only taker may fill.
func (env *testEnv) makeSpecificTakerOrder(t *testing.T, id byte, taker common.Address) common.Hash {
	t.Helper()
	req := sellGold(id, 10, 20)
	req.SpecificTaker = taker
	if err := env.engine.MakeOrder(alice, req); err != nil {
		t.Fatalf("make specific-taker order: %v", err)
	}
	return req.ID
}

func TestTakeOrderSpecificTaker(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeSpecificTakerOrder(t, 1, bob)

	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(10), farFuture); err != nil {
		t.Fatalf("designated taker rejected: %v", err)
	}
}

func TestTakeOrderInsufficientBuyFunds(t *testing.T) {
	env := newTestEnv(t)
	// Price the order beyond bob's entire silver balance.
	id := env.makeOrder(t, 1, 100, 50000)

	err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(100), farFuture)
	if !errors.Is(err, ErrInsufficientBuyAllowance) {
		t.Errorf("expected ErrInsufficientBuyAllowance, got %v", err)
	}
}

func TestTakeOrderDelegated(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	// The trader needs a buy-side allowance from the taker it acts for.
	err := env.engine.TakeOrder(tina, id, bob, big.NewInt(40), farFuture)
	if !errors.Is(err, ErrInsufficientBuyAllowance) {
		t.Fatalf("expected ErrInsufficientBuyAllowance, got %v", err)
	}

	if err := env.engine.ApproveOnBehalf(tina, silver, bob, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.engine.TakeOrder(tina, id, bob, big.NewInt(40), farFuture); err != nil {
		t.Fatalf("delegated take: %v", err)
	}

	// Fill settles against bob, the allowance shrank by the 80 spent.
	if got := env.available(gold, bob); got != 1040 {
		t.Errorf("bob gold = %d, want 1040", got)
	}
	if got := env.ledger.AllowanceOnBehalf(silver, bob, tina).Int64(); got != 20 {
		t.Errorf("allowance = %d, want 20", got)
	}
}

// ==============================
// Freeze and pause semantics
// ==============================

// TestFreezeAsymmetry verifies the freeze rules: a frozen pair still
// accepts new orders and cancellations but rejects fills.
func TestFreezeAsymmetry(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.FreezePair(operator, goldSilver); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	id := env.makeOrder(t, 1, 100, 200)
	o, _ := env.engine.GetOrder(id)
	if !o.FrozenOnMake {
		t.Error("expected FrozenOnMake recorded")
	}

	err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(1), farFuture)
	if !errors.Is(err, ErrPairFrozen) {
		t.Errorf("expected ErrPairFrozen, got %v", err)
	}

	if err := env.engine.CancelOrder(alice, id); err != nil {
		t.Errorf("cancel on frozen pair: %v", err)
	}

	// After unfreezing, a fresh order trades normally.
	if err := env.engine.UnfreezePair(operator, goldSilver); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	id = env.makeOrder(t, 2, 10, 20)
	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(10), farFuture); err != nil {
		t.Errorf("take after unfreeze: %v", err)
	}
}

func TestTakeOrderAfterDepair(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	if err := env.engine.DepairAssets(operator, goldSilver); err != nil {
		t.Fatalf("depair: %v", err)
	}
	err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(1), farFuture)
	if !errors.Is(err, ErrPairNotWhitelisted) {
		t.Errorf("expected ErrPairNotWhitelisted, got %v", err)
	}
	// The maker can still exit.
	if err := env.engine.CancelOrder(alice, id); err != nil {
		t.Errorf("cancel after depair: %v", err)
	}
}

func TestPauseSemantics(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	if err := env.engine.Pause(mallory); !errors.Is(err, ErrNotOperator) {
		t.Errorf("expected ErrNotOperator, got %v", err)
	}
	if err := env.engine.Pause(operator); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := env.engine.MakeOrder(alice, sellGold(2, 10, 20)); !errors.Is(err, ErrPaused) {
		t.Errorf("expected ErrPaused, got %v", err)
	}

	// Existing orders remain takeable and cancellable while paused.
	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(10), farFuture); err != nil {
		t.Errorf("take while paused: %v", err)
	}
	if err := env.engine.CancelOrder(alice, id); err != nil {
		t.Errorf("maker cancel while paused: %v", err)
	}

	// The operator override is disabled while paused.
	id2 := func() common.Hash {
		if err := env.engine.Unpause(operator); err != nil {
			t.Fatalf("unpause: %v", err)
		}
		id2 := env.makeOrder(t, 3, 10, 20)
		if err := env.engine.Pause(operator); err != nil {
			t.Fatalf("re-pause: %v", err)
		}
		return id2
	}()

	if err := env.engine.CancelOrder(operator, id2); !errors.Is(err, ErrNotEligibleOrPaused) {
		t.Errorf("expected ErrNotEligibleOrPaused, got %v", err)
	}
	if err := env.engine.Unpause(operator); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := env.engine.CancelOrder(operator, id2); err != nil {
		t.Errorf("operator cancel after unpause: %v", err)
	}
}

// ==============================
// CancelOrder
// ==============================

func TestCancelOrderAuthorization(t *testing.T) {
	env := newTestEnv(t)

	// A stranger gets the same opaque rejection as a paused operator.
	id := env.makeOrder(t, 1, 100, 200)
	if err := env.engine.CancelOrder(mallory, id); !errors.Is(err, ErrNotEligibleOrPaused) {
		t.Errorf("expected ErrNotEligibleOrPaused, got %v", err)
	}
	if _, err := env.engine.GetOrder(id); err != nil {
		t.Error("rejected cancel removed the order")
	}

	// The maker's trader may cancel for it.
	if err := env.engine.CancelOrder(tina, id); err != nil {
		t.Fatalf("trader cancel: %v", err)
	}
	if got := env.available(gold, alice); got != 1000 {
		t.Errorf("alice gold after refund = %d, want 1000", got)
	}
	if got := env.blocked(gold, alice); got != 0 {
		t.Errorf("alice blocked gold = %d, want 0", got)
	}

	// The operator may cancel anyone's order while unpaused.
	id = env.makeOrder(t, 2, 50, 100)
	if err := env.engine.CancelOrder(operator, id); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}

	if len(env.events.cancelled) != 2 {
		t.Errorf("expected 2 cancel events, got %d", len(env.events.cancelled))
	}
	if env.events.cancelled[0].Released.Int64() != 100 {
		t.Errorf("released = %s, want 100", env.events.cancelled[0].Released)
	}
}

func TestCancelOrderPartialRefund(t *testing.T) {
	env := newTestEnv(t)
	id := env.makeOrder(t, 1, 100, 200)

	if err := env.engine.TakeOrder(bob, id, common.Address{}, big.NewInt(30), farFuture); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := env.engine.CancelOrder(alice, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// 30 sold, 70 refunded.
	if got := env.available(gold, alice); got != 970 {
		t.Errorf("alice gold = %d, want 970", got)
	}
	if got := env.blocked(gold, alice); got != 0 {
		t.Errorf("alice blocked = %d, want 0", got)
	}
}

func TestCancelOrderUnknown(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.CancelOrder(alice, common.Hash{0xff}); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

// ==============================
// Administration
// ==============================

func TestAdminGuards(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"mint", func() error { return env.engine.Mint(mallory, gold, alice, big.NewInt(1)) }},
		{"whitelist", func() error { return env.engine.SetWhitelisted(mallory, gold, alice, true) }},
		{"pair", func() error {
			return env.engine.PairAssets(mallory, pair.DeriveID(gold, copper), gold, copper)
		}},
		{"depair", func() error { return env.engine.DepairAssets(mallory, goldSilver) }},
		{"freeze", func() error { return env.engine.FreezePair(mallory, goldSilver) }},
		{"unfreeze", func() error { return env.engine.UnfreezePair(mallory, goldSilver) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotOperator) {
				t.Errorf("expected ErrNotOperator, got %v", err)
			}
		})
	}

	// Allowance provisioning is gated on the trader role, not operator.
	err := env.engine.ApproveOnBehalf(mallory, gold, alice, big.NewInt(1))
	if !errors.Is(err, ErrNotAuthorizedTrader) {
		t.Errorf("expected ErrNotAuthorizedTrader, got %v", err)
	}
}

// ==============================
// Observer views
// ==============================

func TestObserverViews(t *testing.T) {
	env := newTestEnv(t)
	a := env.makeOrder(t, 1, 10, 20)
	b := env.makeOrder(t, 2, 30, 60)

	if env.engine.GetOrderCount() != 2 {
		t.Fatalf("count = %d, want 2", env.engine.GetOrderCount())
	}

	seen := make(map[common.Hash]bool)
	for i := 0; i < env.engine.GetOrderCount(); i++ {
		id, err := env.engine.GetIdentifierAt(i)
		if err != nil {
			t.Fatalf("identifier at %d: %v", i, err)
		}
		seen[id] = true
	}
	if !seen[a] || !seen[b] {
		t.Error("enumeration missed an open order")
	}

	// GetOrder returns a detached copy.
	o, _ := env.engine.GetOrder(a)
	o.SellRemaining.SetInt64(0)
	o2, _ := env.engine.GetOrder(a)
	if o2.SellRemaining.Int64() != 10 {
		t.Error("mutating a returned order changed engine state")
	}
}
