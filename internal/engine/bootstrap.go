package engine

import (
	"context"
	"log/slog"
	"maps"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/tree"
)

// bootstrap loads prior state from the store once at attach. A leader also
// seeds a virgin store or removes keys it does not persist.
func (e *Engine) bootstrap(ctx context.Context) {
	keys := append(e.cfg.LoadKeys(), ir.VersionKey)

	values, err := e.store.Get(ctx, keys)
	if err != nil {
		e.report(&SyncError{Code: ErrCodeStore, Op: "bootstrap.get", Err: err})
		return
	}

	if _, ok := values[ir.VersionKey]; !ok {
		e.seed(ctx)
		return
	}

	stored := maps.Clone(values)
	delete(stored, ir.VersionKey)
	if len(stored) > 0 && e.State() != StateDetached {
		bctx := &ir.BatchContext{Source: ir.SourceBootstrap, Origin: e.cfg.InstanceID}
		err := e.tree.Batch(bctx, func(w *tree.Writer) error {
			return w.Merge(nil, ir.Object(stored))
		})
		if err != nil {
			e.report(&SyncError{Code: ErrCodeApply, Op: "bootstrap.merge", Err: err})
		}
	}

	if stale := e.cfg.StaleKeys(); len(stale) > 0 {
		if err := e.store.Remove(ctx, stale); err != nil {
			e.report(&SyncError{Code: ErrCodeStore, Op: "bootstrap.remove", Err: err})
			return
		}
		slog.Info("removed keys not persisted by leader",
			"instance", e.cfg.InstanceID,
			"keys", stale,
		)
	}

	slog.Info("bootstrap loaded stored state",
		"instance", e.cfg.InstanceID,
		"keys", len(stored),
	)
}

// seed writes the default state and version tag to a virgin store.
// Followers leave the store alone.
func (e *Engine) seed(ctx context.Context) {
	if !e.cfg.IsLeader {
		slog.Info("bootstrap found no stored state, waiting for leader",
			"instance", e.cfg.InstanceID,
		)
		return
	}

	items := make(map[string]ir.Value, len(e.cfg.InitialState)+1)
	for k, v := range e.cfg.InitialState {
		items[k] = ir.Clone(v)
	}
	items[ir.VersionKey] = ir.Int(*e.cfg.StoredVersion)

	if err := e.store.Set(ctx, items); err != nil {
		e.report(&SyncError{Code: ErrCodeStore, Op: "bootstrap.seed", Err: err})
		return
	}

	slog.Info("bootstrap seeded store",
		"instance", e.cfg.InstanceID,
		"version", *e.cfg.StoredVersion,
	)
}
