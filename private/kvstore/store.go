// Package kvstore defines the abstract key/value collection the
// specification assumes as its persistence layer (§6.3's
// DocumentStore, reduced to primitives): byte-string keys and
// values, with a compare-and-swap primitive giving the document
// layer the atomic conditional updates §5's mutation discipline
// requires, without this package knowing anything about documents,
// revisions or JSON.
package kvstore

import (
	"bytes"
	"context"
	"sort"

	"github.com/zeebo/errs"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errs.Class("key not found")

// ErrConflict is returned by CompareAndSwap when the stored value no
// longer matches the expected "old" value.
var ErrConflict = errs.Class("compare-and-swap conflict")

// Key is an opaque store key.
type Key []byte

// Value is an opaque stored value.
type Value []byte

// Item is a single key/value pair, primarily used by test helpers
// and Range callers that want to materialize a snapshot.
type Item struct {
	Key   Key
	Value Value
}

// Items is a sortable slice of Item, ordered by Key.
type Items []Item

func (items Items) Len() int      { return len(items) }
func (items Items) Swap(i, j int) { items[i], items[j] = items[j], items[i] }
func (items Items) Less(i, j int) bool {
	return bytes.Compare(items[i].Key, items[j].Key) < 0
}

// CloneItems returns a deep copy of items.
func CloneItems(items Items) Items {
	clone := make(Items, len(items))
	for i, item := range items {
		clone[i] = Item{
			Key:   append(Key{}, item.Key...),
			Value: append(Value{}, item.Value...),
		}
	}
	return clone
}

// Store is the minimal abstract key/value collection the node
// document layer is built on. Implementations must make Get/Put/
// Delete individually atomic and CompareAndSwap atomic with respect
// to concurrent writers racing on the same key — that is the only
// concurrency primitive the document layer relies on (§5).
type Store interface {
	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Put unconditionally stores value at key.
	Put(ctx context.Context, key Key, value Value) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// CompareAndSwap atomically replaces the value at key with
	// newValue iff the current value equals oldValue (oldValue may
	// be nil to mean "key must not exist yet"). It returns
	// ErrConflict if the precondition does not hold.
	CompareAndSwap(ctx context.Context, key Key, oldValue, newValue Value) error
	// Range calls fn for every key/value pair in the store, in
	// unspecified order, stopping early if fn returns an error.
	Range(ctx context.Context, fn func(ctx context.Context, key Key, value Value) error) error
}

// PutAll stores every item in items.
func PutAll(ctx context.Context, store Store, items ...Item) error {
	for _, item := range items {
		if err := store.Put(ctx, item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot materializes every item currently in store, sorted by key.
func Snapshot(ctx context.Context, store Store) (Items, error) {
	var items Items
	err := store.Range(ctx, func(ctx context.Context, key Key, value Value) error {
		items = append(items, Item{
			Key:   append(Key{}, key...),
			Value: append(Value{}, value...),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Sort(items)
	return items, nil
}
