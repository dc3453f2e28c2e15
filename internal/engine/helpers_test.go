package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tree"
)

const waitTimeout = 2 * time.Second

func int64Ptr(v int64) *int64 { return &v }

func defaultState() ir.Object {
	return ir.Object{
		"a": ir.Array{},
		"b": ir.Object{"c": ir.Int(2)},
		"d": ir.Int(8),
	}
}

func followerConfig(id string) config.Config {
	return config.Config{
		InstanceID:   id,
		StorageArea:  kv.AreaLocal,
		InitialState: defaultState(),
	}
}

func leaderConfig(id string, persisted ...string) config.Config {
	cfg := followerConfig(id)
	cfg.IsLeader = true
	cfg.StoredVersion = int64Ptr(1)
	cfg.PersistedKeys = persisted
	return cfg
}

// fixture is one engine over a recording wrapper of a shared memory store.
type fixture struct {
	engine *Engine
	tree   *tree.Tree
	mem    *kv.MemoryStore
	store  *testutil.RecordingStore
	errs   *testutil.ErrorRecorder
}

func newFixture(t *testing.T, cfg config.Config, mem *kv.MemoryStore) *fixture {
	t.Helper()
	if mem == nil {
		mem = kv.NewMemoryStore()
	}

	f := &fixture{
		tree:  tree.New(cfg.InitialState),
		mem:   mem,
		store: testutil.NewRecordingStore(mem),
		errs:  &testutil.ErrorRecorder{},
	}
	cfg.OnError = f.errs.Record

	e, err := New(cfg, f.tree, f.store)
	require.NoError(t, err)
	f.engine = e
	t.Cleanup(e.Detach)
	return f
}

// attach attaches the engine and waits for bootstrap.
func (f *fixture) attach(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Attach(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.engine.WaitReady(ctx))
}

// flush waits until the engine applied every queued change set.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, f.engine.Flush(ctx))
}

// remoteWrite writes items plus an encoded update straight to the shared
// store, the way another instance would.
func (f *fixture) remoteWrite(t *testing.T, update ir.StateUpdate, items map[string]ir.Value) {
	t.Helper()
	text, err := codec.Encode(update)
	require.NoError(t, err)

	all := map[string]ir.Value{ir.UpdateKey: ir.String(text)}
	for k, v := range items {
		all[k] = v
	}
	require.NoError(t, f.mem.Set(context.Background(), all))
}

func assertTree(t *testing.T, tr *tree.Tree, expected ir.Value) {
	t.Helper()
	got := tr.Snapshot()
	assert.True(t, ir.Equal(expected, got), "expected %s, got %s", render(expected), render(got))
}

func render(v ir.Value) string {
	if v == nil {
		return "<nil>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
