// Package trader answers one question for the engine: may this caller act
// on behalf of that principal? The policy of who becomes a trader or an
// operator is owned elsewhere; this package only holds the capability sets.
package trader

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotAuthorized is returned by Resolve when the caller names a principal
// it may not act for.
var ErrNotAuthorized = errors.New("trader: caller may not act on behalf of principal")

// Oracle decides whether trader may act on behalf of principal.
type Oracle interface {
	CanActOnBehalf(trader, principal common.Address) bool
}

// Resolve returns the effective principal for a call: the caller itself
// when no principal (or the caller's own address) is named, otherwise the
// named principal if the oracle authorizes the delegation. delegated is
// true only on the successful delegation path.
func Resolve(caller, principal common.Address, oracle Oracle) (effective common.Address, delegated bool, err error) {
	if principal == (common.Address{}) || principal == caller {
		return caller, false, nil
	}
	if oracle == nil || !oracle.CanActOnBehalf(caller, principal) {
		return common.Address{}, false, ErrNotAuthorized
	}
	return principal, true, nil
}

// Operators is the registry-backed Oracle: an account added as a trader may
// act on behalf of any principal (the trader-operator model). It also
// tracks the operator set the engine consults for pause and cancel
// overrides.
type Operators struct {
	mu        sync.RWMutex
	traders   map[common.Address]bool
	operators map[common.Address]bool
}

func NewOperators() *Operators {
	return &Operators{
		traders:   make(map[common.Address]bool),
		operators: make(map[common.Address]bool),
	}
}

func (o *Operators) AddTrader(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.traders[addr] = true
}

func (o *Operators) RemoveTrader(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.traders, addr)
}

func (o *Operators) IsTrader(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.traders[addr]
}

func (o *Operators) AddOperator(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.operators[addr] = true
}

func (o *Operators) RemoveOperator(addr common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.operators, addr)
}

func (o *Operators) IsOperator(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.operators[addr]
}

// CanActOnBehalf implements Oracle. A trader may act for any principal
// except itself (acting for oneself is the non-delegated path).
func (o *Operators) CanActOnBehalf(trader, principal common.Address) bool {
	if trader == principal {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.traders[trader]
}
