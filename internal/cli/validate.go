package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/dag"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var dagPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the definition document and graph without running anything",
		Long: `Load the definition document, including every included file, and build
the dependency graph. Reports the first schema violation, malformed URI,
unknown reference, conflicting redeclaration or cycle; prints nothing else.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, dagPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dagPath, "dag", catalog.DefaultDAGPath, "definition document, relative to the workspace")

	return cmd
}

func runValidate(rootOpts *RootOptions, dagPath string, cmd *cobra.Command) error {
	settings, err := resolveSettings(cmd, rootOpts)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dag") {
		settings.DAGPath = dagPath
	}

	formatter := &OutputFormatter{Format: settings.Format, Writer: cmd.OutOrStdout()}

	def, err := dag.LoadDefinition(filepath.Join(settings.Workspace, settings.DAGPath))
	if err != nil {
		return fail(formatter, ExitCommandError, "invalid definition", err)
	}
	g, err := dag.Build(def)
	if err != nil {
		return fail(formatter, ExitCommandError, "invalid graph", err)
	}

	if formatter.JSON() {
		return formatter.Success(struct {
			Valid bool `json:"valid"`
			Steps int  `json:"steps"`
		}{Valid: true, Steps: g.Len()})
	}
	fmt.Fprintf(formatter.Writer, "%s: %d steps, no errors\n", settings.DAGPath, g.Len())
	return nil
}
