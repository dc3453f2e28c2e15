package kv

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/treesync/internal/ir"
)

// MemoryBackend is a process-local Backend. Each area is a MemoryStore.
type MemoryBackend struct {
	mu    sync.Mutex
	areas map[string]*MemoryStore
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{areas: make(map[string]*MemoryStore)}
}

// Area returns the store for name, creating it on first use.
func (b *MemoryBackend) Area(name string) (Store, error) {
	return b.MemoryArea(name)
}

// MemoryArea is Area returning the concrete type, for tests that seed data.
func (b *MemoryBackend) MemoryArea(name string) (*MemoryStore, error) {
	if err := checkArea(name); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.areas[name]
	if !ok {
		s = NewMemoryStore()
		b.areas[name] = s
	}
	return s, nil
}

// MemoryStore is an in-memory Store. Subscribers are notified synchronously,
// in the order writes were applied, before Set or Remove returns.
type MemoryStore struct {
	notifyMu sync.Mutex // held across apply + notify
	mu       sync.Mutex // guards data, subs

	data    map[string]ir.Value
	subs    map[int]func(ChangeSet)
	nextSub int
	closed  bool
}

// ErrClosed is returned by operations on a closed MemoryStore.
var ErrClosed = errors.New("kv: store closed")

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]ir.Value),
		subs: make(map[int]func(ChangeSet)),
	}
}

// Seed writes items without notifying subscribers.
func (s *MemoryStore) Seed(items map[string]ir.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range items {
		s.data[k] = ir.Clone(v)
	}
}

// Close makes every later operation fail with ErrClosed.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, keys []string) (map[string]ir.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string]ir.Value)
	if keys == nil {
		for k, v := range s.data {
			out[k] = ir.Clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = ir.Clone(v)
		}
	}
	return out, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, items map[string]ir.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkItems(items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	return s.apply(func() ChangeSet {
		cs := make(ChangeSet, len(items))
		for k, v := range items {
			old := s.data[k]
			if ir.IsAbsent(v) {
				delete(s.data, k)
				cs[k] = Change{OldValue: ir.Clone(old)}
				continue
			}
			s.data[k] = ir.Clone(v)
			cs[k] = Change{OldValue: ir.Clone(old), NewValue: ir.Clone(v)}
		}
		return cs
	})
}

// Remove implements Store.
func (s *MemoryStore) Remove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	return s.apply(func() ChangeSet {
		cs := make(ChangeSet, len(keys))
		for _, k := range keys {
			cs[k] = Change{OldValue: ir.Clone(s.data[k])}
			delete(s.data, k)
		}
		return cs
	})
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(fn func(ChangeSet)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *MemoryStore) apply(mutate func() ChangeSet) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cs := mutate()
	subs := make([]func(ChangeSet), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(maps.Clone(cs))
	}
	return nil
}
