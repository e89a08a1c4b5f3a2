package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/dag"
)

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dagPath string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove output directories of steps no longer in the graph",
		Long: `Walk the data directory and delete every step output whose URI the
current graph does not declare. Outputs of declared steps are never touched,
whatever their state; neither is anything that is not shaped like a step
output.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(rootOpts, dagPath, dryRun, cmd)
		},
	}

	cmd.Flags().StringVar(&dagPath, "dag", catalog.DefaultDAGPath, "definition document, relative to the workspace")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")

	return cmd
}

func runPrune(rootOpts *RootOptions, dagPath string, dryRun bool, cmd *cobra.Command) error {
	settings, err := resolveSettings(cmd, rootOpts)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dag") {
		settings.DAGPath = dagPath
	}

	formatter := &OutputFormatter{Format: settings.Format, Writer: cmd.OutOrStdout()}

	lock, err := acquireLock(settings.Workspace, dryRun)
	if err != nil {
		return fail(formatter, ExitCommandError, "cannot lock workspace", err)
	}
	defer releaseLock(lock)

	def, err := dag.LoadDefinition(filepath.Join(settings.Workspace, settings.DAGPath))
	if err != nil {
		return fail(formatter, ExitCommandError, "invalid definition", err)
	}
	g, err := dag.Build(def)
	if err != nil {
		return fail(formatter, ExitCommandError, "invalid graph", err)
	}

	orphans, err := catalog.Prune(settings.Workspace, g, dryRun)
	if err != nil {
		return fail(formatter, ExitCommandError, "prune failed", err)
	}

	if formatter.JSON() {
		type orphanEntry struct {
			URI string `json:"uri"`
			Dir string `json:"dir"`
		}
		payload := struct {
			DryRun  bool          `json:"dry_run,omitempty"`
			Removed []orphanEntry `json:"removed"`
		}{DryRun: dryRun, Removed: make([]orphanEntry, 0, len(orphans))}
		for _, o := range orphans {
			payload.Removed = append(payload.Removed, orphanEntry{URI: o.ID.String(), Dir: o.Dir})
		}
		return formatter.Success(payload)
	}

	verb := "removed"
	if dryRun {
		verb = "would remove"
	}
	for _, o := range orphans {
		fmt.Fprintf(formatter.Writer, "%s %s\n", verb, o.Dir)
	}
	fmt.Fprintf(formatter.Writer, "%d orphaned outputs\n", len(orphans))
	return nil
}
