package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store is a thin wrapper around a single Pebble database shared by the
// engine's state stores (orders, ledger balances, trading pairs). Each
// consumer namespaces its keys with its own prefix.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20),
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Set writes a key synchronously. State mutations are persisted per engine
// call, so durability matters more than write throughput here.
func (s *Store) Set(key, val []byte) error {
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Get returns the value for key, or (nil, false, nil) if absent. The
// returned slice is a copy and stays valid after the call.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// ScanPrefix visits every key/value pair under prefix in key order.
// The slices passed to fn are only valid for the duration of the call.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff, scan to the end
}
