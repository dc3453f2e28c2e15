package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/ir"
)

// file is the on-disk form of Config.
type file struct {
	InstanceID    string         `yaml:"instance_id"`
	StorageArea   string         `yaml:"storage_area"`
	InitialState  map[string]any `yaml:"initial_state"`
	IsLeader      bool           `yaml:"is_leader"`
	StoredVersion *int64         `yaml:"stored_version"`
	PersistedKeys []string       `yaml:"persisted_keys"`
}

// Load reads a configuration file. Files ending in .cue are evaluated with
// CUE; everything else is parsed as YAML. Unset fields take their Defaults
// value. The result is validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if filepath.Ext(path) == ".cue" {
		data, err = cueToJSON(path, data)
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML (or JSON) configuration text, fills defaults and validates.
func Parse(data []byte) (Config, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&f); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Defaults()
	if f.InstanceID != "" {
		cfg.InstanceID = f.InstanceID
	}
	if f.StorageArea != "" {
		cfg.StorageArea = f.StorageArea
	}
	if f.InitialState != nil {
		state, err := ir.FromGo(f.InitialState)
		if err != nil {
			return Config{}, fmt.Errorf("initial_state: %w", err)
		}
		cfg.InitialState = state.(ir.Object)
	}
	cfg.IsLeader = f.IsLeader
	cfg.StoredVersion = f.StoredVersion
	cfg.PersistedKeys = f.PersistedKeys

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// cueToJSON evaluates a CUE document and exports it as JSON.
func cueToJSON(path string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling CUE config: %w", err)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE config is not concrete: %w", err)
	}
	out, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("exporting CUE config: %w", err)
	}
	return out, nil
}
