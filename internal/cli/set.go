package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/codec"
	"github.com/roach88/treesync/internal/ir"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Config   string
	Database string
	Merge    bool
	Delete   bool
	Timeout  time.Duration
}

// SetResult is the payload of a successful set.
type SetResult struct {
	InstanceID string `json:"instance_id"`
	Path       string `json:"path"`
	Op         string `json:"op"`
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <path> [json]",
		Short: "Apply one local mutation and publish it",
		Long: `Attach to the store, wait for bootstrap, apply one local mutation to the
tree, wait until it is published, and detach.

Paths are dotted; numeric segments address array elements. The empty
path "" is the whole tree.

Examples:
  treesync set --config ./app.yaml --db ./state.db b.c 5
  treesync set --config ./app.yaml --db ./state.db --merge b '{"c":5,"old":"__NONE__"}'
  treesync set --config ./app.yaml --db ./state.db --delete a.0`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file, .yaml or .cue (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "merge a JSON object into the node at path")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "remove the node at path")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "bootstrap and publish timeout")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("db")
	cmd.MarkFlagsMutuallyExclusive("merge", "delete")

	return cmd
}

func runSet(opts *SetOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	path, err := ir.ParsePath(args[0])
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid path", err)
	}
	mutate, op, err := mutation(opts, path, args[1:])
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "invalid value", err)
	}

	var (
		mu       sync.Mutex
		syncErrs []string
	)
	s, err := openSession(opts.Config, opts.Database, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		syncErrs = append(syncErrs, err.Error())
	})
	if err != nil {
		return formatter.Fail(GetExitCode(err), ErrCodeConfig, err.Error(), nil)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	if err := s.engine.Attach(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "failed to attach engine", err)
	}
	if err := s.engine.WaitReady(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "bootstrap did not finish", err)
	}

	if err := mutate(s); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInput, "tree rejected the mutation", err)
	}
	if err := s.engine.Flush(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "flush failed", err)
	}

	mu.Lock()
	reported := syncErrs
	mu.Unlock()
	if len(reported) > 0 {
		if err := formatter.Error(ErrCodeSync, "sync errors reported", reported); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d sync error(s) reported", len(reported)))
	}

	return formatter.Success(
		SetResult{InstanceID: s.cfg.InstanceID, Path: path.String(), Op: op},
		fmt.Sprintf("%s %q published by %s", op, path.String(), s.cfg.InstanceID),
	)
}

// mutation parses the value arguments into the tree call to make.
func mutation(opts *SetOptions, path ir.Path, rest []string) (func(*session) error, string, error) {
	if opts.Delete {
		if len(rest) > 0 {
			return nil, "", fmt.Errorf("--delete takes no value")
		}
		return func(s *session) error {
			return s.engine.Tree().Set(path, ir.Absent)
		}, "delete", nil
	}

	if len(rest) == 0 {
		return nil, "", fmt.Errorf("a JSON value is required")
	}
	v, err := ir.ParseValue([]byte(rest[0]))
	if err != nil {
		return nil, "", err
	}

	if opts.Merge {
		merged, ok := v.(ir.Object)
		if !ok {
			return nil, "", fmt.Errorf("--merge needs a JSON object, got %s", ir.TypeName(v))
		}
		merged = codec.FromWire(merged).(ir.Object)
		return func(s *session) error {
			return s.engine.Tree().Merge(path, merged)
		}, "merge", nil
	}

	return func(s *session) error {
		return s.engine.Tree().Set(path, v)
	}, "set", nil
}
