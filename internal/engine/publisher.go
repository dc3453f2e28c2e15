package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/tree"
)

// publish writes a local mutation to the store. Called from the tree's
// OnSet hook, in commit order.
func (e *Engine) publish(m tree.Mutation) {
	if e.State() == StateDetached {
		return
	}

	if e.guard.Suppress(m) {
		e.suppressed.Add(1)
		return
	}

	if !m.HasState() {
		e.report(&SyncError{
			Code: ErrCodeInvariant,
			Op:   "publish",
			Path: m.Path.String(),
			Err:  ErrTreeLost,
		})
		return
	}

	items, err := publication(e.guard.ID(), m, e.cfg.TopLevelKeys())
	if err != nil {
		e.report(&SyncError{Code: ErrCodeInvariant, Op: "publish", Path: m.Path.String(), Err: err})
		return
	}

	if err := e.store.Set(e.opCtx, items); err != nil {
		e.report(&SyncError{Code: ErrCodeStore, Op: "publish", Path: m.Path.String(), Err: err})
		return
	}

	e.published.Add(1)
	slog.Debug("local update published",
		"instance", e.cfg.InstanceID,
		"path", m.Path.String(),
		"keys", len(items),
	)
}

// publication builds the single store write for a mutation.
//
// A mutation below the root writes its top-level key (ir.Absent when the key
// is gone) and the encoded update. A root mutation writes every top-level key
// of the new state, deletes known keys the state no longer holds, and carries
// an update with an empty path only.
func publication(origin string, m tree.Mutation, topLevel []string) (map[string]ir.Value, error) {
	state, ok := m.State.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("state root must be an object, got %s", ir.TypeName(m.State))
	}

	items := make(map[string]ir.Value)
	update := ir.StateUpdate{Origin: origin, Path: m.Path}

	if m.Path.IsRoot() {
		for k, v := range state {
			if ir.IsReservedKey(k) {
				return nil, fmt.Errorf("state key %q collides with a reserved store key", k)
			}
			items[k] = v
		}
		for _, k := range topLevel {
			if _, ok := state[k]; !ok {
				items[k] = ir.Absent
			}
		}
		for k, v := range m.Merged {
			if _, ok := state[k]; !ok && ir.IsAbsent(v) && !ir.IsReservedKey(k) {
				items[k] = ir.Absent
			}
		}
	} else {
		head := m.Path.Head()
		if head.IsIndex() {
			return nil, fmt.Errorf("top-level path segment must be a key, got index %d", head.Index())
		}
		key := head.Key()
		if ir.IsReservedKey(key) {
			return nil, fmt.Errorf("state key %q collides with a reserved store key", key)
		}
		if v, ok := state[key]; ok {
			items[key] = v
		} else {
			items[key] = ir.Absent
		}
		update.Value = m.Value
		update.Merged = m.Merged
	}

	text, err := codec.Encode(update)
	if err != nil {
		return nil, err
	}
	items[ir.UpdateKey] = ir.String(text)
	return items, nil
}
