package asset

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otc-labs/otcx/pkg/storage"
)

// Balance tracks one holder's funds in one asset. Available is spendable;
// Blocked is escrowed for open orders and can only leave via the order's
// own settlement or cancellation release.
type Balance struct {
	Available *big.Int `json:"available"`
	Blocked   *big.Int `json:"blocked"`
}

func newBalance() *Balance {
	return &Balance{Available: new(big.Int), Blocked: new(big.Int)}
}

// Total returns Available + Blocked.
func (b *Balance) Total() *big.Int {
	return new(big.Int).Add(b.Available, b.Blocked)
}

// Ledger is the asset ledger adapter: per-asset, per-account balances with a
// blocked (escrow) compartment, delegated allowances, and the per-asset
// whitelist view. All amounts are *big.Int and never go negative.
//
// The ledger is safe for concurrent use on its own, but the engine
// additionally serializes every mutating exchange call, so balance checks
// and the mutations they guard never interleave.
type Ledger struct {
	mu sync.RWMutex

	// asset -> holder -> balance
	balances map[common.Address]map[common.Address]*Balance
	// asset -> owner -> trader -> remaining delegated allowance
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	// asset -> account -> whitelisted
	whitelist map[common.Address]map[common.Address]bool

	store *storage.Store // nil for in-memory ledgers (tests)
}

// NewLedger creates a ledger backed by store. A nil store keeps all state
// in memory. With a store, previously persisted balances, allowances and
// whitelist entries are loaded back.
func NewLedger(store *storage.Store) (*Ledger, error) {
	l := &Ledger{
		balances:   make(map[common.Address]map[common.Address]*Balance),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		whitelist:  make(map[common.Address]map[common.Address]bool),
		store:      store,
	}
	if store != nil {
		if err := l.load(); err != nil {
			return nil, fmt.Errorf("failed to load ledger state: %w", err)
		}
	}
	return l, nil
}

// balanceLocked returns the live balance record, creating it if absent.
// Caller must hold l.mu.
func (l *Ledger) balanceLocked(asset, holder common.Address) *Balance {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]*Balance)
		l.balances[asset] = holders
	}
	b, ok := holders[holder]
	if !ok {
		b = newBalance()
		holders[holder] = b
	}
	return b
}

// Mint credits amount of asset to the holder's available balance.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(asset, to)
	b.Available.Add(b.Available, amount)
	return l.saveBalance(asset, to, b)
}

// AvailableBalance returns the holder's unblocked balance of asset.
func (l *Ledger) AvailableBalance(asset, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[asset][holder]; ok {
		return new(big.Int).Set(b.Available)
	}
	return new(big.Int)
}

// BlockedBalance returns the holder's escrowed balance of asset.
func (l *Ledger) BlockedBalance(asset, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[asset][holder]; ok {
		return new(big.Int).Set(b.Blocked)
	}
	return new(big.Int)
}

// Block moves amount from the holder's available balance into escrow.
func (l *Ledger) Block(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("block amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(asset, holder)
	if b.Available.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance to block: have %s, need %s", b.Available, amount)
	}
	b.Available.Sub(b.Available, amount)
	b.Blocked.Add(b.Blocked, amount)
	return l.saveBalance(asset, holder, b)
}

// Unblock releases amount from escrow back into the holder's available
// balance.
func (l *Ledger) Unblock(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("unblock amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balanceLocked(asset, holder)
	if b.Blocked.Cmp(amount) < 0 {
		return fmt.Errorf("cannot unblock more than blocked: blocked %s, unblock %s", b.Blocked, amount)
	}
	b.Blocked.Sub(b.Blocked, amount)
	b.Available.Add(b.Available, amount)
	return l.saveBalance(asset, holder, b)
}

// Transfer moves amount between available balances.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balanceLocked(asset, from)
	if src.Available.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance: have %s, need %s", src.Available, amount)
	}
	dst := l.balanceLocked(asset, to)
	src.Available.Sub(src.Available, amount)
	dst.Available.Add(dst.Available, amount)

	if err := l.saveBalance(asset, from, src); err != nil {
		return err
	}
	return l.saveBalance(asset, to, dst)
}

// TransferBlocked settles escrowed funds: amount leaves the sender's
// blocked balance and arrives in the recipient's available balance.
func (l *Ledger) TransferBlocked(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balanceLocked(asset, from)
	if src.Blocked.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient blocked balance: have %s, need %s", src.Blocked, amount)
	}
	dst := l.balanceLocked(asset, to)
	src.Blocked.Sub(src.Blocked, amount)
	dst.Available.Add(dst.Available, amount)

	if err := l.saveBalance(asset, from, src); err != nil {
		return err
	}
	return l.saveBalance(asset, to, dst)
}

// ApproveOnBehalf sets the delegated allowance trader may spend of owner's
// asset. Setting a zero amount clears the allowance.
func (l *Ledger) ApproveOnBehalf(asset, owner, trader common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("allowance cannot be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	owners, ok := l.allowances[asset]
	if !ok {
		owners = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[asset] = owners
	}
	traders, ok := owners[owner]
	if !ok {
		traders = make(map[common.Address]*big.Int)
		owners[owner] = traders
	}

	if amount.Sign() == 0 {
		delete(traders, trader)
		if l.store != nil {
			return l.store.Delete(allowanceKey(asset, owner, trader))
		}
		return nil
	}
	traders[trader] = new(big.Int).Set(amount)
	return l.saveAllowance(asset, owner, trader, amount)
}

// AllowanceOnBehalf returns the delegated allowance trader still has on
// owner's asset.
func (l *Ledger) AllowanceOnBehalf(asset, owner, trader common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.allowances[asset][owner][trader]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// UseAllowance consumes amount of trader's delegated allowance on owner's
// asset. Allowances shrink on use, like transferFrom.
func (l *Ledger) UseAllowance(asset, owner, trader common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("allowance use must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allowances[asset][owner][trader]
	if !ok {
		return fmt.Errorf("insufficient allowance: have 0, need %s", amount)
	}
	if a.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient allowance: have %s, need %s", a, amount)
	}
	a.Sub(a, amount)
	if a.Sign() == 0 {
		delete(l.allowances[asset][owner], trader)
		if l.store != nil {
			return l.store.Delete(allowanceKey(asset, owner, trader))
		}
		return nil
	}
	return l.saveAllowance(asset, owner, trader, a)
}

// SetWhitelisted toggles an account's trust status on one asset.
func (l *Ledger) SetWhitelisted(asset, account common.Address, whitelisted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, ok := l.whitelist[asset]
	if !ok {
		accounts = make(map[common.Address]bool)
		l.whitelist[asset] = accounts
	}

	if !whitelisted {
		delete(accounts, account)
		if l.store != nil {
			return l.store.Delete(whitelistKey(asset, account))
		}
		return nil
	}
	accounts[account] = true
	if l.store != nil {
		return l.store.Set(whitelistKey(asset, account), []byte{1})
	}
	return nil
}

// IsWhitelisted reports whether account may hold and trade asset.
func (l *Ledger) IsWhitelisted(asset, account common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.whitelist[asset][account]
}
