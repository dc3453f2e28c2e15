package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/inspect"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	HTTPAddr string

	// ready, when set, receives the inspection address (or "") once the
	// engine is synced. Used by tests.
	ready chan<- string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to a store and stay in sync",
		Long: `Attach a state tree to a SQLite-backed store and keep it synchronized
until interrupted.

The database is created if it doesn't exist. With --http, a read-only
inspection server exposes /health, /status and /state.

Example:
  treesync run --config ./leader.yaml --db ./state.db
  treesync run --config ./follower.cue --db ./state.db --http 127.0.0.1:8080 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file, .yaml or .cue (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.HTTPAddr, "http", "", "serve the inspection API on this address")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSync(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := openSession(opts.Config, opts.Database, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			slog.Error("error closing session", "error", closeErr)
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.engine.Attach(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to attach engine", err)
	}
	if err := s.engine.WaitReady(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return WrapExitError(ExitFailure, "bootstrap did not finish", err)
	}

	addr := ""
	if opts.HTTPAddr != "" {
		srv, l, err := serveInspect(opts.HTTPAddr, s)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start inspection server", err)
		}
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("error stopping inspection server", "error", err)
			}
		}()
		addr = l.Addr().String()
		formatter.VerboseLog("Inspection server listening on %s", addr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Engine synced (instance %s, area %s).\n", s.cfg.InstanceID, s.cfg.StorageArea)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready <- addr
	}

	<-ctx.Done()

	status := s.engine.Status()
	slog.Info("engine stopping",
		"instance", status.InstanceID,
		"applied", status.Applied,
		"published", status.Published,
		"errors", status.Errors,
	)
	return nil
}

// serveInspect starts the inspection server on addr. The listener is bound
// before returning so address errors surface immediately.
func serveInspect(addr string, s *session) (*http.Server, net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:           inspect.NewServer(s.engine),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("inspection server failed", "error", err)
		}
	}()
	return srv, l, nil
}
