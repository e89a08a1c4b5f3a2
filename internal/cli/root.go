// Package cli wires the harvest commands: run, validate, list, prune and
// history. Commands resolve their settings by layering flags over the
// workspace configuration, log to stderr via slog, and report outcomes
// through exit codes (see output.go).
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/config"
)

// RootOptions holds the global flags shared by every command.
type RootOptions struct {
	Workspace string
	Format    string // "text" | "json"
	Verbose   bool
}

// NewRootCommand creates the harvest root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Content-addressed runner for data pipeline steps",
		Long: `Harvest executes a catalog of data transformation steps declared as a
dependency graph. Every step's inputs are checksummed; a run executes only
the steps whose inputs changed since their last recorded success, in
dependency order, and skips everything already up to date.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Workspace, "workspace", defaultWorkspace(),
		"workspace root directory (env HARVEST_WORKSPACE)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", config.FormatText,
		"output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func defaultWorkspace() string {
	if ws := os.Getenv("HARVEST_WORKSPACE"); ws != "" {
		return ws
	}
	return "."
}

// resolveSettings loads the workspace configuration, overlays the global
// flags the user actually set, and configures logging. Command-local flags
// are overlaid by each command afterwards.
func resolveSettings(cmd *cobra.Command, opts *RootOptions) (*config.Settings, error) {
	s, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		s.Format = opts.Format
	}
	if flags.Changed("verbose") {
		s.Verbose = opts.Verbose
	}
	if err := s.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	setupLogging(cmd.ErrOrStderr(), s.Verbose)
	return s, nil
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
