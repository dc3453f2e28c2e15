package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")

	b, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	s, err := b.Area(kv.AreaLocal)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), map[string]ir.Value{
		"b":           ir.Object{"c": ir.Int(2)},
		"d":           ir.Int(8),
		ir.VersionKey: ir.Int(1),
	}))
	return path
}

func TestDump_Text(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "area local: 3 key(s), 3 change(s)\n__state_version = 1\nb = {\"c\":2}\nd = 8\n", out)
}

func TestDump_JSON(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "json"}), "--db", path)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   DumpResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, kv.AreaLocal, resp.Data.Area)
	assert.Equal(t, int64(3), resp.Data.Changes)
	assert.JSONEq(t, `{"c":2}`, string(resp.Data.Entries["b"]))
	assert.JSONEq(t, `8`, string(resp.Data.Entries["d"]))
}

func TestDump_EmptyArea(t *testing.T) {
	path := seedDatabase(t)

	out, err := execute(t, NewDumpCommand(&RootOptions{Format: "text"}), "--db", path, "--area", kv.AreaSync)
	require.NoError(t, err)
	assert.Equal(t, "area sync: 0 key(s), 0 change(s)\n", out)
}

func TestDump_Errors(t *testing.T) {
	path := seedDatabase(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown area", []string{"--db", path, "--area", "session"}, `unknown area "session"`},
		{"missing database", []string{"--db", filepath.Join(t.TempDir(), "none.db")}, "database not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewDumpCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}
