package cli

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	InstanceID    string   `json:"instance_id,omitempty"`
	StorageArea   string   `json:"storage_area,omitempty"`
	Leader        bool     `json:"leader"`
	TopLevelKeys  []string `json:"top_level_keys,omitempty"`
	PersistedKeys []string `json:"persisted_keys,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config file",
		Long: `Load a .yaml or .cue config file and check it without touching any store.

Reports every problem found: unknown fields, reserved keys in the initial
state, leader-only settings on a follower, persisted keys that are not
top-level keys.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "config file not found", err)
	}
	if err != nil {
		problems := strings.Split(err.Error(), "\n")
		if outErr := formatter.Error(ErrCodeConfig, "config is invalid", ValidationResult{Errors: problems}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "config is invalid", err)
	}

	formatter.VerboseLog("Loaded %s", path)

	result := ValidationResult{
		Valid:         true,
		InstanceID:    cfg.InstanceID,
		StorageArea:   cfg.StorageArea,
		Leader:        cfg.IsLeader,
		TopLevelKeys:  cfg.TopLevelKeys(),
		PersistedKeys: cfg.PersistedKeys,
	}
	role := "follower"
	if cfg.IsLeader {
		role = "leader"
	}
	return formatter.Success(result, "✓ "+path+" is valid ("+role+", keys: "+strings.Join(result.TopLevelKeys, ", ")+")")
}
