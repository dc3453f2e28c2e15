package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
)

// CallKind names a recorded store operation.
type CallKind string

const (
	CallGet    CallKind = "get"
	CallSet    CallKind = "set"
	CallRemove CallKind = "remove"
)

// Call is one recorded store operation.
type Call struct {
	Kind  CallKind
	Keys  []string            // get, remove: requested keys
	Items map[string]ir.Value // set: written items
}

// RecordingStore wraps a kv.Store and records every Get, Set and Remove.
// Calls can be made to fail with FailNext.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingStore struct {
	inner kv.Store

	mu    sync.Mutex
	calls []Call
	fail  map[CallKind]error
}

// NewRecordingStore wraps inner.
func NewRecordingStore(inner kv.Store) *RecordingStore {
	return &RecordingStore{inner: inner, fail: make(map[CallKind]error)}
}

// FailNext makes the next call of kind return err without reaching the
// wrapped store. The failed call is still recorded.
func (s *RecordingStore) FailNext(kind CallKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[kind] = err
}

func (s *RecordingStore) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	if err, ok := s.fail[c.Kind]; ok {
		delete(s.fail, c.Kind)
		return err
	}
	return nil
}

// Get implements kv.Store.
func (s *RecordingStore) Get(ctx context.Context, keys []string) (map[string]ir.Value, error) {
	if err := s.record(Call{Kind: CallGet, Keys: slices.Clone(keys)}); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, keys)
}

// Set implements kv.Store.
func (s *RecordingStore) Set(ctx context.Context, items map[string]ir.Value) error {
	copied := make(map[string]ir.Value, len(items))
	for k, v := range items {
		copied[k] = ir.Clone(v)
	}
	if err := s.record(Call{Kind: CallSet, Items: copied}); err != nil {
		return err
	}
	return s.inner.Set(ctx, items)
}

// Remove implements kv.Store.
func (s *RecordingStore) Remove(ctx context.Context, keys []string) error {
	if err := s.record(Call{Kind: CallRemove, Keys: slices.Clone(keys)}); err != nil {
		return err
	}
	return s.inner.Remove(ctx, keys)
}

// Subscribe implements kv.Store.
func (s *RecordingStore) Subscribe(fn func(kv.ChangeSet)) (cancel func()) {
	return s.inner.Subscribe(fn)
}

// Calls returns every recorded call in order.
func (s *RecordingStore) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallsOf returns the recorded calls of one kind in order.
func (s *RecordingStore) CallsOf(kind CallKind) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Sets returns the items of every recorded Set.
func (s *RecordingStore) Sets() []map[string]ir.Value {
	var out []map[string]ir.Value
	for _, c := range s.CallsOf(CallSet) {
		out = append(out, maps.Clone(c.Items))
	}
	return out
}

// Reset forgets recorded calls and pending failures.
func (s *RecordingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.fail = make(map[CallKind]error)
}
