// Package memstore is an in-memory reference implementation of
// kvstore.Store, for tests and local experimentation.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"storj.io/nodestore/private/kvstore"
)

// Store is a mutex-guarded map[string][]byte satisfying kvstore.Store.
type Store struct {
	mu   sync.Mutex
	data map[string]kvstore.Value
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]kvstore.Value)}
}

var _ kvstore.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return append(kvstore.Value{}, v...), nil
}

func (s *Store) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append(kvstore.Value{}, value...)
	return nil
}

func (s *Store) Delete(ctx context.Context, key kvstore.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[string(key)]
	switch {
	case oldValue == nil && exists:
		return kvstore.ErrConflict.New("key %q already exists", key)
	case oldValue != nil && !exists:
		return kvstore.ErrConflict.New("key %q does not exist", key)
	case oldValue != nil && exists && !bytes.Equal(current, oldValue):
		return kvstore.ErrConflict.New("key %q changed concurrently", key)
	}
	s.data[string(key)] = append(kvstore.Value{}, newValue...)
	return nil
}

func (s *Store) Range(ctx context.Context, fn func(ctx context.Context, key kvstore.Key, value kvstore.Value) error) error {
	s.mu.Lock()
	snapshot := make(map[string]kvstore.Value, len(s.data))
	for k, v := range s.data {
		snapshot[k] = append(kvstore.Value{}, v...)
	}
	s.mu.Unlock()

	for k, v := range snapshot {
		if err := fn(ctx, kvstore.Key(k), v); err != nil {
			return err
		}
	}
	return nil
}
