// Package boltstore is the on-disk kvstore.Store backend, grounded
// on the teacher's github.com/boltdb/bolt dependency. Bolt's
// serializable, single-writer transactions give CompareAndSwap for
// free: the whole compare-then-put happens inside one Update call.
package boltstore

import (
	"bytes"
	"context"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"storj.io/nodestore/private/kvstore"
)

// Error is the boltstore error class.
var Error = errs.Class("boltstore")

var bucketName = []byte("documents")

// Store is a bolt.DB-backed kvstore.Store.
type Store struct {
	db *bolt.DB
}

var _ kvstore.Store = (*Store)(nil)

// Open opens (creating if necessary) a bolt database at path and
// returns a Store backed by it.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bolt database.
func (s *Store) Close() error {
	return Error.Wrap(s.db.Close())
}

func (s *Store) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	var value kvstore.Value
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v == nil {
			return kvstore.ErrKeyNotFound.New("%q", key)
		}
		value = append(kvstore.Value{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
	return Error.Wrap(err)
}

func (s *Store) Delete(ctx context.Context, key kvstore.Key) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
	return Error.Wrap(err)
}

func (s *Store) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		current := bucket.Get(key)
		switch {
		case oldValue == nil && current != nil:
			return kvstore.ErrConflict.New("key %q already exists", key)
		case oldValue != nil && current == nil:
			return kvstore.ErrConflict.New("key %q does not exist", key)
		case oldValue != nil && current != nil && !bytes.Equal(current, oldValue):
			return kvstore.ErrConflict.New("key %q changed concurrently", key)
		}
		return bucket.Put(key, newValue)
	})
}

func (s *Store) Range(ctx context.Context, fn func(ctx context.Context, key kvstore.Key, value kvstore.Value) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			return fn(ctx, append(kvstore.Key{}, k...), append(kvstore.Value{}, v...))
		})
	})
}
