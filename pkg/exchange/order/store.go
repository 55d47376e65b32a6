package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otc-labs/otcx/pkg/storage"
)

var (
	// ErrDuplicateID is returned by Insert when the id is already present.
	ErrDuplicateID = errors.New("order: id already exists")
	// ErrNotFound is returned when an id is not in the store.
	ErrNotFound = errors.New("order: id does not exist")
)

const prefixOrder = "ord:"

func orderKey(id common.Hash) []byte {
	return append([]byte(prefixOrder), id.Bytes()...)
}

// Store holds all open orders keyed by id, plus an insertion-ordered id
// index used for enumeration and count. The index order is not a matching
// priority; after a removal the ordering of the remaining entries is
// unspecified (removal swaps the last id into the gap).
type Store struct {
	mu     sync.RWMutex
	orders map[common.Hash]*Order
	index  []common.Hash
	pos    map[common.Hash]int // id -> index position
	seq    uint64

	store *storage.Store // nil for in-memory stores (tests)
}

// NewStore creates an order store backed by store (nil keeps it in memory).
// Persisted orders are loaded back in their original insertion order.
func NewStore(store *storage.Store) (*Store, error) {
	s := &Store{
		orders: make(map[common.Hash]*Order),
		pos:    make(map[common.Hash]int),
		store:  store,
	}
	if store == nil {
		return s, nil
	}

	var loaded []*Order
	err := store.ScanPrefix([]byte(prefixOrder), func(key, val []byte) error {
		var o Order
		if err := json.Unmarshal(val, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order %q: %w", key, err)
		}
		loaded = append(loaded, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Seq < loaded[j].Seq })
	for _, o := range loaded {
		s.orders[o.ID] = o
		s.pos[o.ID] = len(s.index)
		s.index = append(s.index, o.ID)
		if o.Seq >= s.seq {
			s.seq = o.Seq + 1
		}
	}
	return s, nil
}

// Has reports whether id is present.
func (s *Store) Has(id common.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[id]
	return ok
}

// Insert adds a new order and appends its id to the enumeration index.
func (s *Store) Insert(o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, o.ID.Hex())
	}
	o.Seq = s.seq
	s.seq++
	s.orders[o.ID] = o
	s.pos[o.ID] = len(s.index)
	s.index = append(s.index, o.ID)
	return s.save(o)
}

// Get returns a detached copy of the order. Stored records are only ever
// mutated under the store's write lock (see Reduce), so copies taken here
// never observe a half-updated record.
func (s *Store) Get(id common.Hash) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	return o.Clone(), nil
}

// Reduce subtracts qty from the order's remaining sell amount and persists
// the record, returning a copy of the new remaining amount. This is the
// only mutation of a stored record after Insert; holding the write lock
// for it keeps concurrent Get/List copies consistent.
func (s *Store) Reduce(id common.Hash, qty *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	if o.SellRemaining.Cmp(qty) < 0 {
		return nil, fmt.Errorf("order: cannot reduce %s by %s, only %s remaining", id.Hex(), qty, o.SellRemaining)
	}
	o.SellRemaining.Sub(o.SellRemaining, qty)
	if err := s.save(o); err != nil {
		return nil, err
	}
	return new(big.Int).Set(o.SellRemaining), nil
}

// Remove deletes an order. Index removal is swap-and-pop.
func (s *Store) Remove(id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	delete(s.orders, id)

	i := s.pos[id]
	last := len(s.index) - 1
	moved := s.index[last]
	s.index[i] = moved
	s.pos[moved] = i
	s.index = s.index[:last]
	delete(s.pos, id)

	if s.store != nil {
		return s.store.Delete(orderKey(id))
	}
	return nil
}

// Count returns the number of open orders.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// IDAt returns the order id at the given enumeration position.
func (s *Store) IDAt(i int) (common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.index) {
		return common.Hash{}, fmt.Errorf("order: index %d out of range [0, %d)", i, len(s.index))
	}
	return s.index[i], nil
}

// List returns copies of all open orders in enumeration order.
func (s *Store) List() []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Order, 0, len(s.index))
	for _, id := range s.index {
		out = append(out, s.orders[id].Clone())
	}
	return out
}

func (s *Store) save(o *Order) error {
	if s.store == nil {
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	return s.store.Set(orderKey(o.ID), data)
}
