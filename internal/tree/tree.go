package tree

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/treesync/internal/ir"
)

var (
	// ErrPathNotFound is returned when a path descends through a missing node.
	ErrPathNotFound = errors.New("tree: path not found")

	// ErrTypeMismatch is returned when a segment does not fit its container
	// (an index into an object, a key into an array, anything into a scalar).
	ErrTypeMismatch = errors.New("tree: segment does not match node type")

	// ErrDestroyed is returned by mutations after Destroy.
	ErrDestroyed = errors.New("tree: destroyed")
)

// Mutation describes one change, as delivered to Hooks.OnSet.
type Mutation struct {
	// Path addresses the mutated node. Empty for the root.
	Path ir.Path

	// Value is the new value at Path, or ir.Absent if the node was removed.
	Value ir.Value

	// Merged is the merge descriptor when the mutation was a Merge, nil otherwise.
	Merged ir.Object

	// State is the whole tree after the mutation. Nil when the tree no
	// longer holds any value.
	State ir.Value

	// Context is the batch context, nil for mutations outside Batch.
	Context *ir.BatchContext
}

// HasState reports whether the tree still holds a value after the mutation.
func (m Mutation) HasState() bool { return m.State != nil }

// Hooks observe a Tree. Hooks run synchronously after the change is
// committed, in commit order, and must not mutate the tree they observe.
type Hooks interface {
	OnSet(m Mutation)
	OnBatchStart(ctx *ir.BatchContext)
	OnBatchFinish(ctx *ir.BatchContext)
	OnDestroy()
}

// Tree is an observable, mutable state tree.
//
// Thread-safety: all methods are safe for concurrent use. Batches and single
// mutations are serialized together with the hooks they fire, so observers
// always see mutations in the order they were committed.
type Tree struct {
	emitMu sync.Mutex // held across commit + hook delivery
	mu     sync.Mutex // guards root, hooks, destroyed

	root      ir.Value
	hooks     map[int]Hooks
	nextHook  int
	destroyed bool
}

// New creates a tree holding a deep copy of initial.
func New(initial ir.Value) *Tree {
	return &Tree{
		root:  ir.Clone(initial),
		hooks: make(map[int]Hooks),
	}
}

// Get returns a deep copy of the value at path.
func (t *Tree) Get(path ir.Path) (ir.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, err := getIn(t.root, path)
	if err != nil {
		return nil, false
	}
	return ir.Clone(v), true
}

// Snapshot returns a deep copy of the whole tree, nil if it holds nothing.
func (t *Tree) Snapshot() ir.Value {
	v, _ := t.Get(nil)
	return v
}

// Set replaces the value at path. ir.Absent removes the node.
func (t *Tree) Set(path ir.Path, v ir.Value) error {
	return t.commit(nil, false, func(w *Writer) error {
		return w.Set(path, v)
	})
}

// Merge merges entries into the object or array at path.
// Absent entries delete the corresponding key or element.
func (t *Tree) Merge(path ir.Path, merged ir.Object) error {
	return t.commit(nil, false, func(w *Writer) error {
		return w.Merge(path, merged)
	})
}

// Batch runs fn as one atomic unit. Either every mutation made through the
// Writer is committed, or (when fn returns an error) none is. ctx is handed
// to OnBatchStart, OnBatchFinish and every OnSet of the batch.
func (t *Tree) Batch(ctx *ir.BatchContext, fn func(w *Writer) error) error {
	return t.commit(ctx, true, fn)
}

// Attach registers hooks and returns a function that removes them.
func (t *Tree) Attach(h Hooks) (detach func()) {
	t.mu.Lock()
	id := t.nextHook
	t.nextHook++
	t.hooks[id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.hooks, id)
		t.mu.Unlock()
	}
}

// Destroy fires OnDestroy on every attached hook and rejects later mutations.
func (t *Tree) Destroy() {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	hooks := t.hookList()
	t.hooks = make(map[int]Hooks)
	t.mu.Unlock()

	for _, h := range hooks {
		h.OnDestroy()
	}
}

func (t *Tree) commit(ctx *ir.BatchContext, batch bool, fn func(w *Writer) error) error {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	w := &Writer{root: t.root, backup: ir.Clone(t.root), ctx: ctx}
	if err := fn(w); err != nil {
		t.root = w.backup
		t.mu.Unlock()
		return err
	}
	t.root = w.root
	hooks := t.hookList()
	t.mu.Unlock()

	if batch {
		for _, h := range hooks {
			h.OnBatchStart(ctx)
		}
	}
	for _, m := range w.mutations {
		for _, h := range hooks {
			h.OnSet(m)
		}
	}
	if batch {
		for _, h := range hooks {
			h.OnBatchFinish(ctx)
		}
	}
	return nil
}

// hookList returns hooks in registration order. Caller holds t.mu.
func (t *Tree) hookList() []Hooks {
	ids := make([]int, 0, len(t.hooks))
	for id := range t.hooks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Hooks, len(ids))
	for i, id := range ids {
		out[i] = t.hooks[id]
	}
	return out
}

// Writer mutates a tree inside Batch. It is only valid during the callback.
type Writer struct {
	root      ir.Value
	backup    ir.Value
	ctx       *ir.BatchContext
	mutations []Mutation
}

// Get returns a deep copy of the value at path, including uncommitted writes.
func (w *Writer) Get(path ir.Path) (ir.Value, bool) {
	v, err := getIn(w.root, path)
	if err != nil {
		return nil, false
	}
	return ir.Clone(v), true
}

// Set replaces the value at path. ir.Absent removes the node.
func (w *Writer) Set(path ir.Path, v ir.Value) error {
	if v == nil {
		return fmt.Errorf("tree: set %q: nil value", path)
	}

	v = ir.Clone(v)
	if path.IsRoot() {
		if ir.IsAbsent(v) {
			w.root = nil
		} else {
			w.root = v
		}
	} else {
		root, err := setIn(w.root, path, v)
		if err != nil {
			return fmt.Errorf("tree: set %q: %w", path, err)
		}
		w.root = root
	}

	w.record(Mutation{Path: path.Clone(), Value: ir.Clone(v)})
	return nil
}

// Merge merges entries into the node at path.
func (w *Writer) Merge(path ir.Path, merged ir.Object) error {
	target, err := getIn(w.root, path)
	if err != nil {
		return fmt.Errorf("tree: merge %q: %w", path, err)
	}

	next, err := mergeInto(target, merged)
	if err != nil {
		return fmt.Errorf("tree: merge %q: %w", path, err)
	}
	if path.IsRoot() {
		w.root = next
	} else if w.root, err = setIn(w.root, path, next); err != nil {
		return fmt.Errorf("tree: merge %q: %w", path, err)
	}

	w.record(Mutation{Path: path.Clone(), Value: ir.Clone(next), Merged: ir.CloneObject(merged)})
	return nil
}

func (w *Writer) record(m Mutation) {
	m.State = ir.Clone(w.root)
	m.Context = w.ctx
	w.mutations = append(w.mutations, m)
}

func getIn(node ir.Value, path ir.Path) (ir.Value, error) {
	if node == nil {
		return nil, ErrPathNotFound
	}
	for _, seg := range path {
		switch n := node.(type) {
		case ir.Object:
			if seg.IsIndex() {
				return nil, ErrTypeMismatch
			}
			child, ok := n[seg.Key()]
			if !ok {
				return nil, ErrPathNotFound
			}
			node = child
		case ir.Array:
			if !seg.IsIndex() {
				return nil, ErrTypeMismatch
			}
			if seg.Index() >= len(n) {
				return nil, ErrPathNotFound
			}
			node = n[seg.Index()]
		default:
			return nil, ErrTypeMismatch
		}
	}
	return node, nil
}

// setIn writes v at path below node and returns the (possibly reallocated)
// node. path is non-empty.
func setIn(node ir.Value, path ir.Path, v ir.Value) (ir.Value, error) {
	seg := path[0]
	last := len(path) == 1

	switch n := node.(type) {
	case ir.Object:
		if seg.IsIndex() {
			return nil, ErrTypeMismatch
		}
		if last {
			if ir.IsAbsent(v) {
				delete(n, seg.Key())
			} else {
				n[seg.Key()] = v
			}
			return n, nil
		}
		child, ok := n[seg.Key()]
		if !ok {
			return nil, ErrPathNotFound
		}
		updated, err := setIn(child, path[1:], v)
		if err != nil {
			return nil, err
		}
		n[seg.Key()] = updated
		return n, nil

	case ir.Array:
		if !seg.IsIndex() {
			return nil, ErrTypeMismatch
		}
		i := seg.Index()
		if last {
			switch {
			case ir.IsAbsent(v) && i < len(n):
				return slices.Delete(n, i, i+1), nil
			case ir.IsAbsent(v):
				return nil, ErrPathNotFound
			case i == len(n):
				return append(n, v), nil
			case i < len(n):
				n[i] = v
				return n, nil
			default:
				return nil, ErrPathNotFound
			}
		}
		if i >= len(n) {
			return nil, ErrPathNotFound
		}
		updated, err := setIn(n[i], path[1:], v)
		if err != nil {
			return nil, err
		}
		n[i] = updated
		return n, nil

	case nil:
		return nil, ErrPathNotFound

	default:
		return nil, ErrTypeMismatch
	}
}

// mergeInto applies merged to target. Objects take entries by key. Arrays take
// entries keyed by decimal index; deletions are applied last, highest index
// first, so earlier indices in the same merge stay valid.
func mergeInto(target ir.Value, merged ir.Object) (ir.Value, error) {
	switch n := target.(type) {
	case ir.Object:
		for k, v := range merged {
			if ir.IsAbsent(v) {
				delete(n, k)
				continue
			}
			n[k] = ir.Clone(v)
		}
		return n, nil

	case ir.Array:
		indices := make([]int, 0, len(merged))
		byIndex := make(map[int]ir.Value, len(merged))
		for k, v := range merged {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 {
				return nil, fmt.Errorf("%w: array merge key %q is not an index", ErrTypeMismatch, k)
			}
			indices = append(indices, i)
			byIndex[i] = v
		}
		slices.Sort(indices)

		var deletions []int
		for _, i := range indices {
			v := byIndex[i]
			if ir.IsAbsent(v) {
				deletions = append(deletions, i)
				continue
			}
			switch {
			case i < len(n):
				n[i] = ir.Clone(v)
			case i == len(n):
				n = append(n, ir.Clone(v))
			default:
				return nil, fmt.Errorf("%w: index %d beyond length %d", ErrPathNotFound, i, len(n))
			}
		}
		for j := len(deletions) - 1; j >= 0; j-- {
			if i := deletions[j]; i < len(n) {
				n = slices.Delete(n, i, i+1)
			}
		}
		return n, nil

	default:
		return nil, ErrTypeMismatch
	}
}
