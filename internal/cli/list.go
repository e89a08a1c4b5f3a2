package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/dag"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	DAGPath    string
	Only       bool
	Downstream bool
	Excludes   []string
	Strict     bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list [patterns...]",
		Short: "Show the selected steps and whether each is dirty",
		Long: `Resolve patterns the same way run does and print every selected step
with its current state: dirty steps would execute on the next run, clean
steps would be skipped.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DAGPath, "dag", catalog.DefaultDAGPath, "definition document, relative to the workspace")
	cmd.Flags().BoolVar(&opts.Only, "only", false, "match exact URIs and skip dependency expansion")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "also select every transitive dependent of the matches")
	cmd.Flags().StringArrayVar(&opts.Excludes, "exclude", nil, "drop matching steps after expansion (repeatable)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a pattern matches no step")

	return cmd
}

type listEntry struct {
	URI   string `json:"uri"`
	Kind  string `json:"kind"`
	State string `json:"state"` // "dirty" | "clean"
}

func runList(opts *ListOptions, patterns []string, cmd *cobra.Command) error {
	settings, err := resolveSettings(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dag") {
		settings.DAGPath = opts.DAGPath
	}
	if flags.Changed("strict") {
		settings.Strict = opts.Strict
	}

	formatter := &OutputFormatter{Format: settings.Format, Writer: cmd.OutOrStdout()}

	g, sel, err := loadSelection(settings, patterns, dag.SelectOptions{
		Exact:               opts.Only,
		IncludeDependencies: !opts.Only,
		IncludeDependents:   opts.Downstream,
		ExcludePatterns:     opts.Excludes,
		Strict:              settings.Strict,
	})
	if err != nil {
		return fail(formatter, ExitCommandError, "cannot resolve selection", err)
	}

	sums := checksum.NewStore(settings.Workspace, g)
	entries := make([]listEntry, 0, sel.Steps.Len())
	for _, id := range sel.Steps.Sorted() {
		dirty, err := sums.IsDirty(id)
		if err != nil {
			return fail(formatter, ExitCommandError, fmt.Sprintf("cannot checksum %s", id), err)
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		entries = append(entries, listEntry{URI: id.String(), Kind: id.Kind().String(), State: state})
	}

	if formatter.JSON() {
		return formatter.Success(entries)
	}
	for _, e := range entries {
		fmt.Fprintf(formatter.Writer, "%-5s  %-4s  %s\n", e.State, e.Kind, e.URI)
	}
	fmt.Fprintf(formatter.Writer, "%d steps selected\n", len(entries))
	return nil
}
