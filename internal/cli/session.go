package cli

import (
	"fmt"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/kv"
	"github.com/roach88/treesync/internal/tree"
)

// session is one engine over one SQLite database, as used by run and set.
type session struct {
	cfg     config.Config
	backend *kv.SQLiteBackend
	engine  *engine.Engine
}

// openSession loads the config, opens the database and builds an unattached
// engine. Errors are ExitErrors.
func openSession(configPath, dbPath string, onError func(error)) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid config", err)
	}
	if onError != nil {
		cfg.OnError = onError
	}

	backend, err := kv.OpenSQLite(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	store, err := backend.Area(cfg.StorageArea)
	if err != nil {
		_ = backend.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open storage area", err)
	}

	eng, err := engine.New(cfg, tree.New(cfg.InitialState), store)
	if err != nil {
		_ = backend.Close()
		return nil, WrapExitError(ExitFailure, "failed to create engine", err)
	}

	return &session{cfg: cfg, backend: backend, engine: eng}, nil
}

// Close detaches the engine and closes the database.
func (s *session) Close() error {
	s.engine.Detach()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
