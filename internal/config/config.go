package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/treesync/internal/ir"
	"github.com/roach88/treesync/internal/kv"
)

// Config configures one sync engine instance.
type Config struct {
	// InstanceID must be unique among all instances sharing one store and area.
	InstanceID string

	// StorageArea selects the store area (kv.AreaLocal or kv.AreaSync).
	StorageArea string

	// InitialState is the default tree. Its keys are the top-level state keys.
	InitialState ir.Object

	// IsLeader marks the one instance that seeds and cleans the store.
	IsLeader bool

	// StoredVersion is the version tag a leader writes when seeding.
	// Leader only.
	StoredVersion *int64

	// PersistedKeys are the top-level keys a leader loads and keeps.
	// Leader only.
	PersistedKeys []string

	// OnError receives every reported sync error. Nil logs through slog.
	OnError func(error)
}

// Defaults returns a follower configuration with a fresh UUIDv7 instance id,
// the local storage area and an empty initial state.
func Defaults() Config {
	return Config{
		InstanceID:   uuid.Must(uuid.NewV7()).String(),
		StorageArea:  kv.AreaLocal,
		InitialState: ir.Object{},
	}
}

// TopLevelKeys returns the keys of InitialState in sorted order.
func (c Config) TopLevelKeys() []string {
	return c.InitialState.SortedKeys()
}

// LoadKeys returns the keys bootstrap fetches: PersistedKeys for a leader,
// every top-level key for a follower.
func (c Config) LoadKeys() []string {
	if c.IsLeader {
		keys := slices.Clone(c.PersistedKeys)
		slices.Sort(keys)
		return keys
	}
	return c.TopLevelKeys()
}

// StaleKeys returns the top-level keys a leader removes from the store
// because it does not persist them. Always empty for followers.
func (c Config) StaleKeys() []string {
	if !c.IsLeader {
		return nil
	}
	var stale []string
	for _, k := range c.TopLevelKeys() {
		if !slices.Contains(c.PersistedKeys, k) {
			stale = append(stale, k)
		}
	}
	return stale
}

// ReportError hands err to OnError, or logs it when no callback is set.
func (c Config) ReportError(err error) {
	if c.OnError != nil {
		c.OnError(err)
		return
	}
	slog.Error("sync error", "instance", c.InstanceID, "error", err)
}

// Validate checks the configuration and returns every problem found,
// joined with errors.Join.
func (c Config) Validate() error {
	var errs []error

	if c.InstanceID == "" {
		errs = append(errs, errors.New("instance_id is required"))
	}
	if !kv.ValidArea(c.StorageArea) {
		errs = append(errs, fmt.Errorf("storage_area must be %q or %q, got %q", kv.AreaLocal, kv.AreaSync, c.StorageArea))
	}

	if c.InitialState == nil {
		errs = append(errs, errors.New("initial_state is required"))
	}
	equivalent := make(map[string]string)
	for _, k := range c.TopLevelKeys() {
		nfc := norm.NFC.String(k)
		if other, ok := equivalent[nfc]; ok {
			errs = append(errs, fmt.Errorf("initial_state keys %q and %q differ only in Unicode normalization", other, k))
		}
		equivalent[nfc] = k
		if ir.IsReservedKey(k) {
			errs = append(errs, fmt.Errorf("initial_state key %q collides with a reserved store key", k))
		}
		if ir.ContainsAbsent(c.InitialState[k]) {
			errs = append(errs, fmt.Errorf("initial_state key %q holds an absent marker", k))
		}
	}

	if c.IsLeader {
		if c.StoredVersion == nil {
			errs = append(errs, errors.New("stored_version is required for a leader"))
		}
		seen := make(map[string]bool, len(c.PersistedKeys))
		for _, k := range c.PersistedKeys {
			if _, ok := c.InitialState[k]; !ok {
				errs = append(errs, fmt.Errorf("persisted key %q is not a top-level key of initial_state", k))
			}
			if seen[k] {
				errs = append(errs, fmt.Errorf("persisted key %q is listed twice", k))
			}
			seen[k] = true
		}
	} else {
		if c.StoredVersion != nil {
			errs = append(errs, errors.New("stored_version is only valid for a leader"))
		}
		if len(c.PersistedKeys) > 0 {
			errs = append(errs, errors.New("persisted_keys is only valid for a leader"))
		}
	}

	return errors.Join(errs...)
}
