package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessScenarios = "../harness/testdata/scenarios"

const failingScenario = `
name: wrong_tree
description: "Tree assertion that cannot hold"
initial_state: {a: 1}
instances:
  - id: test-1
assertions:
  - type: tree
    instance: test-1
    expect: {a: 2}
`

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	return execute(t, NewTestCommand(&RootOptions{Format: format}), args...)
}

func TestTest_HarnessScenariosPass(t *testing.T) {
	out, err := runTestCommand(t, "json", harnessScenarios)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 12, resp.Data.Total)
	assert.Equal(t, 12, resp.Data.Passed)
	assert.Zero(t, resp.Data.Failed)
}

func TestTest_Filter(t *testing.T) {
	out, err := runTestCommand(t, "text", harnessScenarios, "--filter", "leader_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ leader_bootstrap_prior_version\n")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "follower_bootstrap")
}

func TestTest_InvalidFilter(t *testing.T) {
	_, err := runTestCommand(t, "text", harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong_tree.yaml", failingScenario)

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string     `json:"code"`
			Details TestResult `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeScenario, resp.Error.Code)
	require.Len(t, resp.Error.Details.Scenarios, 1)
	assert.False(t, resp.Error.Details.Scenarios[0].Pass)
	assert.Contains(t, resp.Error.Details.Scenarios[0].Errors[0], "Assertion failed: tree")
}

func TestTest_UnloadableScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml\n  failed to load scenario")
}

func TestTest_GoldenUpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	scenario, err := os.ReadFile(filepath.Join(harnessScenarios, "local_set.yaml"))
	require.NoError(t, err)
	writeFile(t, dir, "local_set.yaml", string(scenario))

	out, err := runTestCommand(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ local_set (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "local_set.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "local_set.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	_, err = runTestCommand(t, "text", dir)
	require.NoError(t, err)

	// A stale golden file fails the scenario.
	writeFile(t, filepath.Join(dir, "golden"), "local_set.golden", `{"scenario":"local_set","trace":[]}`)
	out, err = runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_MissingDirectory(t *testing.T) {
	_, err := runTestCommand(t, "text", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTest_EmptyDirectory(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
