package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
)

const leaderConfig = `
instance_id: cli-leader
is_leader: true
stored_version: 1
persisted_keys: [a, b, d]
initial_state:
  a: []
  b: {c: 2}
  d: 8
`

const followerConfig = `
instance_id: cli-follower
initial_state:
  a: []
  b: {c: 2}
  d: 8
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// snapshot reads an area of the database at path.
func snapshot(t *testing.T, path string) map[string]ir.Value {
	t.Helper()
	b, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	entries, err := b.Snapshot(context.Background(), kv.AreaLocal)
	require.NoError(t, err)
	return entries
}
