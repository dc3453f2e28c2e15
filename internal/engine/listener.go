package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/tree"
)

// handleChanges applies one change set from the store feed to the tree.
// Called only from the run loop.
func (e *Engine) handleChanges(cs kv.ChangeSet) {
	if e.State() == StateDetached {
		return
	}

	change, ok := cs[ir.UpdateKey]
	if !ok {
		return
	}
	if change.NewValue == nil {
		// The update key itself was removed; nothing to apply.
		return
	}

	text, ok := change.NewValue.(ir.String)
	if !ok {
		e.report(&SyncError{
			Code: ErrCodeDecode,
			Op:   "listen",
			Err:  fmt.Errorf("update payload must be a string, got %s", ir.TypeName(change.NewValue)),
		})
		return
	}

	update, err := codec.Decode(string(text))
	if err != nil {
		e.report(&SyncError{Code: ErrCodeDecode, Op: "listen", Err: err})
		return
	}

	if e.guard.IsEcho(update) {
		e.echoes.Add(1)
		slog.Debug("ignoring own update", "instance", e.cfg.InstanceID, "path", update.Path.String())
		return
	}

	apply, err := e.plan(update, cs)
	if err != nil {
		e.report(&SyncError{
			Code:   ErrCodeMalformed,
			Op:     "listen",
			Origin: update.Origin,
			Path:   update.Path.String(),
			Err:    err,
		})
		return
	}

	ctx := &ir.BatchContext{Source: ir.SourceRemote, Origin: update.Origin}
	if err := e.tree.Batch(ctx, apply); err != nil {
		e.report(&SyncError{
			Code:   ErrCodeApply,
			Op:     "listen",
			Origin: update.Origin,
			Path:   update.Path.String(),
			Err:    err,
		})
		return
	}

	e.applied.Add(1)
	slog.Debug("remote update applied",
		"instance", e.cfg.InstanceID,
		"origin", update.Origin,
		"path", update.Path.String(),
	)
}

// plan turns an update into the batch that applies it. A malformed update
// yields an error and no batch.
func (e *Engine) plan(update ir.StateUpdate, cs kv.ChangeSet) (func(w *tree.Writer) error, error) {
	switch s := update.Shape().(type) {
	case ir.SubtreeMerge:
		return func(w *tree.Writer) error {
			return w.Merge(s.Path, s.Merged)
		}, nil

	case ir.SubtreeSet:
		return func(w *tree.Writer) error {
			return w.Set(s.Path, s.Value)
		}, nil

	case ir.FullReplace:
		var keys []string
		for _, k := range cs.Keys() {
			if e.topLevel[k] {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("whole-tree update without any known top-level key")
		}
		return func(w *tree.Writer) error {
			for _, k := range keys {
				v := cs[k].NewValue
				if v == nil {
					v = ir.Absent
				}
				if err := w.Set(ir.P(k), v); err != nil {
					return err
				}
			}
			return nil
		}, nil

	case ir.Malformed:
		return nil, fmt.Errorf("malformed update: %s", s.Reason)

	default:
		return nil, fmt.Errorf("unknown update shape %T", s)
	}
}
