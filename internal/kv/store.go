package kv

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/treesync/internal/ir"
)

// Storage area names.
const (
	AreaLocal = "local"
	AreaSync  = "sync"
)

// ErrUnknownArea is returned by Backend.Area for names other than AreaLocal and AreaSync.
var ErrUnknownArea = errors.New("kv: unknown storage area")

// ValidArea reports whether name is a storage area a backend can serve.
func ValidArea(name string) bool {
	return name == AreaLocal || name == AreaSync
}

// Change is the before/after pair for one key. A nil value means the key
// held nothing on that side of the change.
type Change struct {
	OldValue ir.Value
	NewValue ir.Value
}

// ChangeSet is one notification from a store: every key named by a single
// Set or Remove call, mapped to its change.
type ChangeSet map[string]Change

// Has reports whether key is part of the change set.
func (cs ChangeSet) Has(key string) bool {
	_, ok := cs[key]
	return ok
}

// Keys returns the changed keys in sorted order.
func (cs ChangeSet) Keys() []string {
	keys := make([]string, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Store is a shared key-value area with a change feed.
//
// Set and Remove are atomic: all keys of one call become visible together and
// are reported together in one ChangeSet. Subscribers in the writing process
// are notified as well as those in other processes.
type Store interface {
	// Get returns the entries for keys that exist. A nil keys slice returns
	// every entry in the area.
	Get(ctx context.Context, keys []string) (map[string]ir.Value, error)

	// Set writes items. An ir.Absent item deletes that key in the same call.
	Set(ctx context.Context, items map[string]ir.Value) error

	// Remove deletes keys.
	Remove(ctx context.Context, keys []string) error

	// Subscribe registers fn for every future change set and returns a
	// function that cancels the subscription. fn must not call back into
	// the store.
	Subscribe(fn func(ChangeSet)) (cancel func())
}

// Backend hands out the storage areas of one underlying store.
type Backend interface {
	Area(name string) (Store, error)
}

func checkArea(name string) error {
	if !ValidArea(name) {
		return fmt.Errorf("%w: %q", ErrUnknownArea, name)
	}
	return nil
}

// checkItems rejects values a store cannot hold.
func checkItems(items map[string]ir.Value) error {
	for k, v := range items {
		if k == "" {
			return errors.New("kv: empty key")
		}
		if v == nil {
			return fmt.Errorf("kv: nil value for key %q", k)
		}
		if !ir.IsAbsent(v) && ir.ContainsAbsent(v) {
			return fmt.Errorf("kv: value for key %q contains an absent marker", k)
		}
	}
	return nil
}
