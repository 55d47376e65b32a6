package pair

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/otc-labs/otcx/pkg/storage"
)

// Pair is one enabled (base, quote) asset combination. Orders may only be
// created against a registered pair; a frozen pair rejects new fills but
// never blocks cancellation.
type Pair struct {
	ID         common.Hash    `json:"id"`
	BaseAsset  common.Address `json:"baseAsset"`
	QuoteAsset common.Address `json:"quoteAsset"`
	Frozen     bool           `json:"frozen"`
}

// assetPair is the unordered (a, b) asset tuple in canonical byte order,
// so lookups succeed regardless of which side is sold.
type assetPair [2]common.Address

func canonical(a, b common.Address) assetPair {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return assetPair{a, b}
}

// DeriveID computes a deterministic pair id as keccak256 over the canonical
// asset tuple. Both orientations of the same two assets derive the same id.
func DeriveID(a, b common.Address) common.Hash {
	c := canonical(a, b)
	h := sha3.NewLegacyKeccak256()
	h.Write(c[0].Bytes())
	h.Write(c[1].Bytes())
	return common.BytesToHash(h.Sum(nil))
}

// Registry tracks which asset pairs are enabled for trading and whether a
// pair is frozen. Pair management is an operator concern; the engine only
// reads it.
type Registry struct {
	mu       sync.RWMutex
	pairs    map[common.Hash]*Pair
	byAssets map[assetPair]common.Hash
	index    []common.Hash // insertion order, for enumeration

	store *storage.Store // nil for in-memory registries (tests)
}

const prefixPair = "pair:"

func pairKey(id common.Hash) []byte {
	return append([]byte(prefixPair), id.Bytes()...)
}

// NewRegistry creates a registry backed by store (nil keeps it in memory).
func NewRegistry(store *storage.Store) (*Registry, error) {
	r := &Registry{
		pairs:    make(map[common.Hash]*Pair),
		byAssets: make(map[assetPair]common.Hash),
		store:    store,
	}
	if store != nil {
		err := store.ScanPrefix([]byte(prefixPair), func(key, val []byte) error {
			var p Pair
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("failed to unmarshal pair %q: %w", key, err)
			}
			r.pairs[p.ID] = &p
			r.byAssets[canonical(p.BaseAsset, p.QuoteAsset)] = p.ID
			r.index = append(r.index, p.ID)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load pairs: %w", err)
		}
	}
	return r, nil
}

// PairAssets registers a new trading pair under id.
func (r *Registry) PairAssets(id common.Hash, base, quote common.Address) error {
	if base == quote {
		return fmt.Errorf("pair: base and quote asset must differ")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[id]; exists {
		return fmt.Errorf("pair: id %s already registered", id.Hex())
	}
	key := canonical(base, quote)
	if _, exists := r.byAssets[key]; exists {
		return fmt.Errorf("pair: assets already paired")
	}

	p := &Pair{ID: id, BaseAsset: base, QuoteAsset: quote}
	r.pairs[id] = p
	r.byAssets[key] = id
	r.index = append(r.index, id)
	return r.save(p)
}

// DepairAssets removes a pair. Open orders on the pair survive but can no
// longer be taken, only cancelled.
func (r *Registry) DepairAssets(id common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pairs[id]
	if !exists {
		return fmt.Errorf("pair: id %s not registered", id.Hex())
	}
	delete(r.pairs, id)
	delete(r.byAssets, canonical(p.BaseAsset, p.QuoteAsset))
	for i, v := range r.index {
		if v == id {
			r.index[i] = r.index[len(r.index)-1]
			r.index = r.index[:len(r.index)-1]
			break
		}
	}
	if r.store != nil {
		return r.store.Delete(pairKey(id))
	}
	return nil
}

// FreezePair suspends new fills on the pair.
func (r *Registry) FreezePair(id common.Hash) error {
	return r.setFrozen(id, true)
}

// UnfreezePair re-enables fills on the pair.
func (r *Registry) UnfreezePair(id common.Hash) error {
	return r.setFrozen(id, false)
}

func (r *Registry) setFrozen(id common.Hash, frozen bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pairs[id]
	if !exists {
		return fmt.Errorf("pair: id %s not registered", id.Hex())
	}
	p.Frozen = frozen
	return r.save(p)
}

// IsPaired reports whether id references a registered pair. Absence is a
// negative result, not an error.
func (r *Registry) IsPaired(id common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pairs[id]
	return ok
}

// IsFrozen reports whether the pair exists and is frozen.
func (r *Registry) IsFrozen(id common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[id]
	return ok && p.Frozen
}

// Get returns a copy of the pair record.
func (r *Registry) Get(id common.Hash) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[id]
	if !ok {
		return Pair{}, false
	}
	return *p, true
}

// LookupAssets resolves the pair governing a (sell, buy) asset tuple, in
// either orientation.
func (r *Registry) LookupAssets(a, b common.Address) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAssets[canonical(a, b)]
	if !ok {
		return Pair{}, false
	}
	return *r.pairs[id], true
}

// Count returns the number of registered pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairs)
}

// IDAt returns the pair id at the given enumeration position.
func (r *Registry) IDAt(i int) (common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.index) {
		return common.Hash{}, fmt.Errorf("pair: index %d out of range [0, %d)", i, len(r.index))
	}
	return r.index[i], nil
}

// List returns copies of all registered pairs in enumeration order.
func (r *Registry) List() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pair, 0, len(r.index))
	for _, id := range r.index {
		out = append(out, *r.pairs[id])
	}
	return out
}

func (r *Registry) save(p *Pair) error {
	if r.store == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pair: %w", err)
	}
	return r.store.Set(pairKey(p.ID), data)
}
