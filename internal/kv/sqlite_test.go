package kv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/ir"
)

// createTestBackend opens a SQLite backend in a temp dir with fast polling.
func createTestBackend(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "test.db")
	}
	b, err := OpenSQLite(path, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// changeRecorder collects change sets delivered from a polling goroutine.
type changeRecorder struct {
	mu   sync.Mutex
	sets []ChangeSet
}

func (r *changeRecorder) record(cs ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, cs)
}

func (r *changeRecorder) snapshot() []ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeSet, len(r.sets))
	copy(out, r.sets)
	return out
}

func (r *changeRecorder) waitFor(t *testing.T, n int) []ChangeSet {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.snapshot()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	createTestBackend(t, path)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		b, err := OpenSQLite(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, b.Close())
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	b := createTestBackend(t, "")

	var mode string
	require.NoError(t, b.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, b.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	version, err := b.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestSQLiteArea_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, "")
	s, err := b.Area(AreaLocal)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, map[string]ir.Value{
		"a": ir.Array{},
		"b": ir.Object{"c": ir.Int(2)},
		"d": ir.Int(8),
	}))

	got, err := s.Get(ctx, []string{"b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Value{"b": ir.Object{"c": ir.Int(2)}}, got)

	require.NoError(t, s.Set(ctx, map[string]ir.Value{"a": ir.Absent, "d": ir.Int(9)}))
	require.NoError(t, s.Remove(ctx, []string{"b"}))

	all, err := s.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Value{"d": ir.Int(9)}, all)

	none, err := s.Get(ctx, []string{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteArea_AreasAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, "")
	local, err := b.Area(AreaLocal)
	require.NoError(t, err)
	synced, err := b.Area(AreaSync)
	require.NoError(t, err)

	require.NoError(t, local.Set(ctx, map[string]ir.Value{"k": ir.String("local")}))
	require.NoError(t, synced.Set(ctx, map[string]ir.Value{"k": ir.String("sync")}))

	snap, err := b.Snapshot(ctx, AreaLocal)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Value{"k": ir.String("local")}, snap)

	_, err = b.Area("bogus")
	assert.ErrorIs(t, err, ErrUnknownArea)
}

func TestSQLiteArea_SubscribeGroupsByWriteCall(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, "")
	s, err := b.Area(AreaLocal)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, map[string]ir.Value{"before": ir.Int(1)}))

	rec := &changeRecorder{}
	cancel := s.Subscribe(rec.record)
	defer cancel()

	require.NoError(t, s.Set(ctx, map[string]ir.Value{
		"b":              ir.Object{"c": ir.Int(5)},
		"__state_update": ir.String(`{"origin":"x","path":["b","c"],"value":5}`),
	}))
	require.NoError(t, s.Remove(ctx, []string{"before"}))

	sets := rec.waitFor(t, 2)
	require.Len(t, sets, 2, "changes written before Subscribe are not delivered")

	assert.Equal(t, []string{"__state_update", "b"}, sets[0].Keys())
	assert.Equal(t, ir.Object{"c": ir.Int(5)}, sets[0]["b"].NewValue)
	assert.Nil(t, sets[0]["b"].OldValue)

	assert.Equal(t, ChangeSet{"before": {OldValue: ir.Int(1)}}, sets[1])
}

func TestSQLiteArea_SharedBetweenConnections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	writer := createTestBackend(t, path)
	reader := createTestBackend(t, path)

	ws, err := writer.Area(AreaSync)
	require.NoError(t, err)
	rs, err := reader.Area(AreaSync)
	require.NoError(t, err)

	rec := &changeRecorder{}
	defer rs.Subscribe(rec.record)()

	require.NoError(t, ws.Set(ctx, map[string]ir.Value{"d": ir.Int(1)}))

	sets := rec.waitFor(t, 1)
	assert.Equal(t, ir.Int(1), sets[0]["d"].NewValue)

	got, err := rs.Get(ctx, []string{"d"})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), got["d"])
}

func TestSQLiteArea_CancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, "")
	s, err := b.Area(AreaLocal)
	require.NoError(t, err)

	rec := &changeRecorder{}
	cancel := s.Subscribe(rec.record)
	require.NoError(t, s.Set(ctx, map[string]ir.Value{"a": ir.Int(1)}))
	rec.waitFor(t, 1)

	cancel()
	require.NoError(t, s.Set(ctx, map[string]ir.Value{"a": ir.Int(2)}))
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, rec.snapshot(), 1)
}

func TestSQLiteArea_ChangeLog(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t, "")
	s, err := b.Area(AreaLocal)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, map[string]ir.Value{"a": ir.Int(1), "b": ir.Int(2)}))
	require.NoError(t, s.Remove(ctx, []string{"a"}))

	n, err := b.ChangeCount(ctx, AreaLocal)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var batches int
	require.NoError(t, b.db.QueryRow(`SELECT COUNT(DISTINCT batch_id) FROM changes`).Scan(&batches))
	assert.Equal(t, 2, batches)
}

func TestSQLiteBackend_CloseStopsSubscriptions(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	s, err := b.Area(AreaLocal)
	require.NoError(t, err)

	cancel := s.Subscribe(func(ChangeSet) {})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	cancel()
}
