package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
)

func int64Ptr(v int64) *int64 { return &v }

func defaultState() ir.Object {
	return ir.Object{
		"a": ir.Array{},
		"b": ir.Object{"c": ir.Int(2)},
		"d": ir.Int(8),
	}
}

func leaderConfig() Config {
	return Config{
		InstanceID:    "test-1",
		StorageArea:   kv.AreaLocal,
		InitialState:  defaultState(),
		IsLeader:      true,
		StoredVersion: int64Ptr(1),
		PersistedKeys: []string{"b", "d"},
	}
}

func TestDefaults(t *testing.T) {
	a := Defaults()
	b := Defaults()

	assert.NotEmpty(t, a.InstanceID)
	assert.NotEqual(t, a.InstanceID, b.InstanceID)
	assert.Equal(t, kv.AreaLocal, a.StorageArea)
	assert.False(t, a.IsLeader)
	assert.NoError(t, a.Validate())
}

func TestLoadKeysAndStaleKeys(t *testing.T) {
	leader := leaderConfig()
	assert.Equal(t, []string{"b", "d"}, leader.LoadKeys())
	assert.Equal(t, []string{"a"}, leader.StaleKeys())

	follower := Config{InitialState: defaultState()}
	assert.Equal(t, []string{"a", "b", "d"}, follower.LoadKeys())
	assert.Empty(t, follower.StaleKeys())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid leader",
			mutate: func(*Config) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.InstanceID = "" },
			wantErr: "instance_id is required",
		},
		{
			name:    "bad storage area",
			mutate:  func(c *Config) { c.StorageArea = "session" },
			wantErr: "storage_area",
		},
		{
			name:    "reserved key",
			mutate:  func(c *Config) { c.InitialState[ir.UpdateKey] = ir.Int(1) },
			wantErr: "reserved store key",
		},
		{
			name: "keys equal after normalization",
			mutate: func(c *Config) {
				c.InitialState["caf\u00e9"] = ir.Int(1)
				c.InitialState["cafe\u0301"] = ir.Int(2)
			},
			wantErr: "differ only in Unicode normalization",
		},
		{
			name:   "decomposed key alone",
			mutate: func(c *Config) { c.InitialState["cafe\u0301"] = ir.Int(2) },
		},
		{
			name:    "leader without version",
			mutate:  func(c *Config) { c.StoredVersion = nil },
			wantErr: "stored_version is required",
		},
		{
			name:    "persisted key not in state",
			mutate:  func(c *Config) { c.PersistedKeys = []string{"b", "zz"} },
			wantErr: `persisted key "zz"`,
		},
		{
			name:    "duplicate persisted key",
			mutate:  func(c *Config) { c.PersistedKeys = []string{"b", "b"} },
			wantErr: "listed twice",
		},
		{
			name: "follower with leader fields",
			mutate: func(c *Config) {
				c.IsLeader = false
			},
			wantErr: "only valid for a leader",
		},
		{
			name:    "missing initial state",
			mutate:  func(c *Config) { c.InitialState = nil; c.PersistedKeys = nil },
			wantErr: "initial_state is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := leaderConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReportError(t *testing.T) {
	var got []error
	cfg := leaderConfig()
	cfg.OnError = func(err error) { got = append(got, err) }

	boom := errors.New("boom")
	cfg.ReportError(boom)

	require.Len(t, got, 1)
	assert.Same(t, boom, got[0])

	// Without a callback the error is logged, not panicked on.
	cfg.OnError = nil
	assert.NotPanics(t, func() { cfg.ReportError(boom) })
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "leader.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "popup-1", cfg.InstanceID)
	assert.Equal(t, kv.AreaLocal, cfg.StorageArea)
	assert.True(t, cfg.IsLeader)
	require.NotNil(t, cfg.StoredVersion)
	assert.Equal(t, int64(1), *cfg.StoredVersion)
	assert.Equal(t, []string{"b", "d"}, cfg.PersistedKeys)
	assert.True(t, ir.Equal(defaultState(), cfg.InitialState))
}

func TestLoadCUE(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "follower.cue"))
	require.NoError(t, err)

	assert.Equal(t, "content-1", cfg.InstanceID)
	assert.Equal(t, kv.AreaSync, cfg.StorageArea)
	assert.False(t, cfg.IsLeader)
	assert.True(t, ir.Equal(defaultState(), cfg.InitialState))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "typo.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_leder")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "nope.yaml"))
	assert.Error(t, err)
}

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("initial_state: {x: 1}\n"))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, kv.AreaLocal, cfg.StorageArea)
	assert.True(t, ir.Equal(ir.Object{"x": ir.Int(1)}, cfg.InitialState))
}

func TestParseRejectsFloats(t *testing.T) {
	_, err := Parse([]byte("initial_state: {x: 1.5}\n"))
	assert.Error(t, err)
}

func TestParseRejectsBadCUE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, writeFile(path, "instance_id: string\n"))

	_, err := Load(path)
	assert.Error(t, err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
