package engine

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tree"
)

func TestEngine_NewValidatesConfig(t *testing.T) {
	cfg := followerConfig("")
	_, err := New(cfg, tree.New(cfg.InitialState), kv.NewMemoryStore())
	assert.Error(t, err)

	cfg = followerConfig("test-1")
	_, err = New(cfg, nil, kv.NewMemoryStore())
	assert.Error(t, err)

	_, err = New(cfg, tree.New(cfg.InitialState), nil)
	assert.Error(t, err)
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newFixture(t, followerConfig("test-1"), nil)
	assert.Equal(t, StateUninitialized, f.engine.State())
	assert.ErrorIs(t, f.engine.Flush(context.Background()), ErrNotAttached)

	f.attach(t)
	assert.Equal(t, StateSynced, f.engine.State())
	assert.ErrorIs(t, f.engine.Attach(context.Background()), ErrAlreadyAttached)

	f.engine.Detach()
	assert.Equal(t, StateDetached, f.engine.State())
	assert.ErrorIs(t, f.engine.Flush(context.Background()), ErrDetached)
	f.engine.Detach()

	// After detach neither direction syncs.
	f.store.Reset()
	require.NoError(t, f.tree.Set(ir.P("d"), ir.Int(1)))
	assert.Empty(t, f.store.Sets())

	f.remoteWrite(t, ir.StateUpdate{Origin: "test-2", Path: ir.P("d"), Value: ir.Int(50)}, nil)
	time.Sleep(10 * time.Millisecond)
	v, ok := f.tree.Get(ir.P("d"))
	require.True(t, ok)
	assert.Equal(t, ir.Int(1), v)
}

func TestEngine_ApplyLoopOnlyStartedByAttach(t *testing.T) {
	// A second caller draining the queue would break single-writer apply.
	_, exported := reflect.TypeOf(&Engine{}).MethodByName("Run")
	assert.False(t, exported, "the apply loop must not be callable from outside the package")

	f := newFixture(t, followerConfig("test-1"), nil)
	f.attach(t)
	assert.ErrorIs(t, f.engine.Attach(context.Background()), ErrAlreadyAttached)

	f.remoteWrite(t, ir.StateUpdate{Origin: "test-2", Path: ir.P("d"), Value: ir.Int(50)}, nil)
	require.NoError(t, f.engine.Flush(context.Background()))
	v, ok := f.tree.Get(ir.P("d"))
	require.True(t, ok)
	assert.Equal(t, ir.Int(50), v)
}

func TestEngine_DetachBeforeAttach(t *testing.T) {
	f := newFixture(t, followerConfig("test-1"), nil)
	f.engine.Detach()

	assert.Equal(t, StateDetached, f.engine.State())
	select {
	case <-f.engine.Ready():
	default:
		t.Fatal("Ready should be closed after detach")
	}
	assert.ErrorIs(t, f.engine.Attach(context.Background()), ErrAlreadyAttached)
}

func TestEngine_TreeDestroyDetaches(t *testing.T) {
	f := newFixture(t, followerConfig("test-1"), nil)
	f.attach(t)

	f.tree.Destroy()

	assert.Equal(t, StateDetached, f.engine.State())
	assert.ErrorIs(t, f.engine.Flush(context.Background()), ErrDetached)
}

func TestEngine_StatusCounters(t *testing.T) {
	f := newFixture(t, leaderConfig("test-1", "b", "d"), nil)
	f.attach(t)

	require.NoError(t, f.tree.Set(ir.P("d"), ir.Int(1)))
	f.flush(t)

	st := f.engine.Status()
	assert.Equal(t, "test-1", st.InstanceID)
	assert.Equal(t, kv.AreaLocal, st.StorageArea)
	assert.True(t, st.Leader)
	assert.Equal(t, "synced", st.State)
	assert.Equal(t, int64(1), st.Published)
	assert.Equal(t, int64(1), st.Echoes)
	assert.Zero(t, st.Queued)
}

// blockingStore holds Get until release is closed.
type blockingStore struct {
	kv.Store
	release chan struct{}
}

func (s *blockingStore) Get(ctx context.Context, keys []string) (map[string]ir.Value, error) {
	<-s.release
	return s.Store.Get(ctx, keys)
}

func TestEngine_LocalMutationsDuringBootstrapArePublished(t *testing.T) {
	mem := seededStore()
	rec := testutil.NewRecordingStore(mem)
	blocking := &blockingStore{Store: rec, release: make(chan struct{})}

	cfg := followerConfig("test-1")
	tr := tree.New(cfg.InitialState)
	e, err := New(cfg, tr, blocking)
	require.NoError(t, err)
	t.Cleanup(e.Detach)

	require.NoError(t, e.Attach(context.Background()))
	assert.Equal(t, StateLoading, e.State())

	require.NoError(t, tr.Set(ir.P("d"), ir.Int(42)))
	require.Len(t, rec.Sets(), 1, "published without waiting for bootstrap")

	close(blocking.release)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, e.WaitReady(ctx))

	// Bootstrap read the value this instance just wrote.
	v, ok := tr.Get(ir.P("d"))
	require.True(t, ok)
	assert.Equal(t, ir.Int(42), v)
}

func TestEngine_TwoInstancesOverMemoryStore(t *testing.T) {
	mem := kv.NewMemoryStore()
	leader := newFixture(t, leaderConfig("test-1", "a", "b", "d"), mem)
	follower := newFixture(t, followerConfig("test-2"), mem)
	leader.attach(t)
	follower.attach(t)

	flushBoth := func() {
		leader.flush(t)
		follower.flush(t)
	}

	require.NoError(t, leader.tree.Set(ir.P("b", "c"), ir.Int(5)))
	flushBoth()
	assertTree(t, follower.tree, ir.Object{"a": ir.Array{}, "b": ir.Object{"c": ir.Int(5)}, "d": ir.Int(8)})

	require.NoError(t, follower.tree.Merge(ir.P("b"), ir.Object{"e": ir.Int(1)}))
	flushBoth()
	assertTree(t, leader.tree, ir.Object{"a": ir.Array{}, "b": ir.Object{"c": ir.Int(5), "e": ir.Int(1)}, "d": ir.Int(8)})

	require.NoError(t, leader.tree.Set(ir.Path{}, ir.Object{"a": ir.Array{ir.String("x")}, "b": ir.Object{}}))
	flushBoth()
	assertTree(t, follower.tree, ir.Object{"a": ir.Array{ir.String("x")}, "b": ir.Object{}})

	err := follower.tree.Batch(nil, func(w *tree.Writer) error {
		if err := w.Set(ir.P("a", 1), ir.String("y")); err != nil {
			return err
		}
		return w.Set(ir.P("d"), ir.Int(3))
	})
	require.NoError(t, err)
	flushBoth()
	assertTree(t, leader.tree, ir.Object{"a": ir.Array{ir.String("x"), ir.String("y")}, "b": ir.Object{}, "d": ir.Int(3)})
	assertTree(t, follower.tree, leader.tree.Snapshot())

	assert.Zero(t, leader.errs.Len())
	assert.Zero(t, follower.errs.Len())
}

func TestEngine_TwoInstancesOverSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	open := func() kv.Store {
		b, err := kv.OpenSQLite(path, kv.WithPollInterval(5*time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		s, err := b.Area(kv.AreaSync)
		require.NoError(t, err)
		return s
	}

	start := func(cfg config.Config) *Engine {
		cfg.StorageArea = kv.AreaSync
		e, err := New(cfg, tree.New(cfg.InitialState), open())
		require.NoError(t, err)
		t.Cleanup(e.Detach)
		require.NoError(t, e.Attach(context.Background()))
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		require.NoError(t, e.WaitReady(ctx))
		return e
	}

	leader := start(leaderConfig("test-1", "b", "d"))
	follower := start(followerConfig("test-2"))

	require.NoError(t, leader.Tree().Set(ir.P("b", "c"), ir.Int(5)))
	require.Eventually(t, func() bool {
		v, ok := follower.Tree().Get(ir.P("b", "c"))
		return ok && ir.Equal(ir.Int(5), v)
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, follower.Tree().Set(ir.P("d"), ir.Int(11)))
	require.Eventually(t, func() bool {
		v, ok := leader.Tree().Get(ir.P("d"))
		return ok && ir.Equal(ir.Int(11), v)
	}, waitTimeout, 5*time.Millisecond)

	// A fresh follower loads what the others persisted.
	late := start(followerConfig("test-3"))
	assertTree(t, late.Tree(), ir.Object{"a": ir.Array{}, "b": ir.Object{"c": ir.Int(5)}, "d": ir.Int(11)})
}
