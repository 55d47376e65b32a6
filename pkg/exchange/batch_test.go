package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func hashes(ids ...byte) []common.Hash {
	out := make([]common.Hash, len(ids))
	for i, id := range ids {
		out[i] = common.Hash{id}
	}
	return out
}

func amounts(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func selfTakers(n int) []common.Address {
	return make([]common.Address, n)
}

// ==============================
// TakeOrders
// ==============================

func TestTakeOrdersBounds(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 10, 20)

	err := env.engine.TakeOrders(bob, hashes(1), selfTakers(1), amounts(1), farFuture)
	if !errors.Is(err, ErrTooFewOrders) {
		t.Errorf("expected ErrTooFewOrders, got %v", err)
	}

	// Shrink the upper bound to exercise it without hundreds of orders.
	env.engine.maxBatch = 3
	err = env.engine.TakeOrders(bob, hashes(1, 1, 1, 1), selfTakers(4), amounts(1, 1, 1, 1), farFuture)
	if !errors.Is(err, ErrTooManyOrders) {
		t.Errorf("expected ErrTooManyOrders, got %v", err)
	}
}

func TestTakeOrdersLengthMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 10, 20)
	env.makeOrder(t, 2, 10, 20)

	err := env.engine.TakeOrders(bob, hashes(1, 2), selfTakers(1), amounts(1, 1), farFuture)
	if !errors.Is(err, ErrArrayLengthMismatch) {
		t.Errorf("expected ErrArrayLengthMismatch for short onBehalf, got %v", err)
	}
	err = env.engine.TakeOrders(bob, hashes(1, 2), selfTakers(2), amounts(1), farFuture)
	if !errors.Is(err, ErrArrayLengthMismatch) {
		t.Errorf("expected ErrArrayLengthMismatch for short quantities, got %v", err)
	}
}

// TestTakeOrdersAllOrNothing verifies a failure anywhere in the batch
// leaves every order and balance untouched.
func TestTakeOrdersAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)
	env.makeOrder(t, 2, 50, 100)

	// Second leg overfills.
	err := env.engine.TakeOrders(bob, hashes(1, 2), selfTakers(2), amounts(10, 51), farFuture)
	if !errors.Is(err, ErrOverfill) {
		t.Fatalf("expected ErrOverfill, got %v", err)
	}

	for id, want := range map[byte]int64{1: 100, 2: 50} {
		o, err := env.engine.GetOrder(common.Hash{id})
		if err != nil {
			t.Fatalf("order %d gone after failed batch", id)
		}
		if o.SellRemaining.Int64() != want {
			t.Errorf("order %d remaining = %s, want %d", id, o.SellRemaining, want)
		}
	}
	if got := env.available(gold, bob); got != 1000 {
		t.Errorf("bob gold = %d, want 1000 (no settlement)", got)
	}
	if got := env.available(silver, alice); got != 1000 {
		t.Errorf("alice silver = %d, want 1000 (no settlement)", got)
	}
	if len(env.events.takenBatches) != 0 {
		t.Error("failed batch emitted events")
	}
}

func TestTakeOrdersSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)
	env.makeOrder(t, 2, 50, 100)

	err := env.engine.TakeOrders(bob, hashes(1, 2), selfTakers(2), amounts(100, 20), farFuture)
	if err != nil {
		t.Fatalf("batch take: %v", err)
	}

	// Order 1 fully filled (cost 200), order 2 partially (cost 40).
	if _, err := env.engine.GetOrder(common.Hash{1}); !errors.Is(err, ErrOrderNotFound) {
		t.Error("expected order 1 closed")
	}
	o, _ := env.engine.GetOrder(common.Hash{2})
	if o.SellRemaining.Int64() != 30 {
		t.Errorf("order 2 remaining = %s, want 30", o.SellRemaining)
	}
	if got := env.available(gold, bob); got != 1120 {
		t.Errorf("bob gold = %d, want 1120", got)
	}
	if got := env.available(silver, bob); got != 760 {
		t.Errorf("bob silver = %d, want 760", got)
	}

	if len(env.events.takenBatches) != 1 || len(env.events.takenBatches[0]) != 2 {
		t.Fatalf("expected one batch event with 2 fills")
	}
	if !env.events.takenBatches[0][0].Filled || env.events.takenBatches[0][1].Filled {
		t.Error("fill flags wrong in batch events")
	}
}

// TestTakeOrdersSameOrderTwice verifies staged fills of the same order see
// each other's consumption.
func TestTakeOrdersSameOrderTwice(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)

	// 60 + 50 exceeds the 100 on offer even though each leg alone fits.
	err := env.engine.TakeOrders(bob, hashes(1, 1), selfTakers(2), amounts(60, 50), farFuture)
	if !errors.Is(err, ErrOverfill) {
		t.Fatalf("expected ErrOverfill, got %v", err)
	}

	// 60 + 40 consumes it exactly.
	err = env.engine.TakeOrders(bob, hashes(1, 1), selfTakers(2), amounts(60, 40), farFuture)
	if err != nil {
		t.Fatalf("batch take: %v", err)
	}
	if _, err := env.engine.GetOrder(common.Hash{1}); !errors.Is(err, ErrOrderNotFound) {
		t.Error("expected order closed")
	}
	if got := env.available(gold, bob); got != 1100 {
		t.Errorf("bob gold = %d, want 1100", got)
	}
}

// TestTakeOrdersStagedSpending verifies a taker's balance is checked
// cumulatively across the batch, not per leg.
func TestTakeOrdersStagedSpending(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 600)
	env.makeOrder(t, 2, 100, 600)

	// Each full fill costs 600 silver; bob holds 1000, enough for either
	// leg alone but not both.
	err := env.engine.TakeOrders(bob, hashes(1, 2), selfTakers(2), amounts(100, 100), farFuture)
	if !errors.Is(err, ErrInsufficientBuyAllowance) {
		t.Fatalf("expected ErrInsufficientBuyAllowance, got %v", err)
	}
	if got := env.available(silver, bob); got != 1000 {
		t.Errorf("bob silver = %d, want 1000 (no settlement)", got)
	}
}

func TestTakeOrdersDelegatedAllowanceStaged(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 10, 20)
	env.makeOrder(t, 2, 10, 20)

	// 40 silver needed across both legs, only 30 approved.
	if err := env.engine.ApproveOnBehalf(tina, silver, bob, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	onBehalf := []common.Address{bob, bob}
	err := env.engine.TakeOrders(tina, hashes(1, 2), onBehalf, amounts(10, 10), farFuture)
	if !errors.Is(err, ErrInsufficientBuyAllowance) {
		t.Fatalf("expected ErrInsufficientBuyAllowance, got %v", err)
	}

	if err := env.engine.ApproveOnBehalf(tina, silver, bob, big.NewInt(40)); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if err := env.engine.TakeOrders(tina, hashes(1, 2), onBehalf, amounts(10, 10), farFuture); err != nil {
		t.Fatalf("batch take: %v", err)
	}
	if got := env.ledger.AllowanceOnBehalf(silver, bob, tina).Int64(); got != 0 {
		t.Errorf("allowance = %d, want 0", got)
	}
}

// ==============================
// CancelOrders
// ==============================

func TestCancelOrdersBounds(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 10, 20)

	if err := env.engine.CancelOrders(alice, hashes(1)); !errors.Is(err, ErrTooFewOrders) {
		t.Errorf("expected ErrTooFewOrders, got %v", err)
	}

	env.engine.maxBatch = 2
	if err := env.engine.CancelOrders(alice, hashes(1, 2, 3)); !errors.Is(err, ErrTooManyOrders) {
		t.Errorf("expected ErrTooManyOrders, got %v", err)
	}
}

func TestCancelOrdersAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)

	// Unknown id anywhere in the batch fails the whole batch.
	err := env.engine.CancelOrders(alice, hashes(1, 0xff))
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := env.engine.GetOrder(common.Hash{1}); err != nil {
		t.Error("order 1 cancelled despite failed batch")
	}
	if got := env.blocked(gold, alice); got != 100 {
		t.Errorf("alice blocked = %d, want 100", got)
	}

	// A repeated id is treated as missing: the first cancellation would
	// consume it.
	env.makeOrder(t, 2, 10, 20)
	err = env.engine.CancelOrders(alice, hashes(1, 2, 1))
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for duplicate id, got %v", err)
	}
	if env.engine.GetOrderCount() != 2 {
		t.Error("duplicate-id batch mutated state")
	}
}

func TestCancelOrdersSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 100, 200)
	env.makeOrder(t, 2, 50, 100)

	if err := env.engine.CancelOrders(alice, hashes(1, 2)); err != nil {
		t.Fatalf("batch cancel: %v", err)
	}
	if env.engine.GetOrderCount() != 0 {
		t.Errorf("open orders = %d, want 0", env.engine.GetOrderCount())
	}
	if got := env.available(gold, alice); got != 1000 {
		t.Errorf("alice gold = %d, want 1000", got)
	}
	if got := env.blocked(gold, alice); got != 0 {
		t.Errorf("alice blocked = %d, want 0", got)
	}

	if len(env.events.cancelledBatches) != 1 || len(env.events.cancelledBatches[0]) != 2 {
		t.Fatalf("expected one batch event with 2 cancellations")
	}
}

func TestCancelOrdersAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.makeOrder(t, 1, 10, 20)
	env.makeOrder(t, 2, 10, 20)

	err := env.engine.CancelOrders(mallory, hashes(1, 2))
	if !errors.Is(err, ErrNotEligibleOrPaused) {
		t.Errorf("expected ErrNotEligibleOrPaused, got %v", err)
	}

	// Trader and operator paths work batch-wide.
	if err := env.engine.CancelOrders(tina, hashes(1, 2)); err != nil {
		t.Errorf("trader batch cancel: %v", err)
	}
}
