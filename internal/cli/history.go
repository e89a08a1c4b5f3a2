package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	Run   string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the journal",
		Long: `List the most recent runs recorded in the workspace journal, newest
first. With --run, show the per-step results of one run instead; the run id
may be any unique prefix.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show the step results of this run (id or unique prefix)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	settings, err := resolveSettings(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	formatter := &OutputFormatter{Format: settings.Format, Writer: cmd.OutOrStdout()}

	path := catalog.JournalPath(settings.Workspace)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if formatter.JSON() {
			return formatter.Success([]runEntry{})
		}
		fmt.Fprintln(formatter.Writer, "no runs recorded")
		return nil
	}

	j, err := journal.Open(path)
	if err != nil {
		return fail(formatter, ExitCommandError, "cannot open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Run != "" {
		return renderRunDetail(ctx, formatter, j, opts.Run)
	}
	return renderRunList(ctx, formatter, j, opts.Limit)
}

// runEntry is the JSON shape of one journal run.
type runEntry struct {
	ID       string `json:"id"`
	Started  string `json:"started"`
	Finished string `json:"finished,omitempty"`
	Outcome  string `json:"outcome"`
	Planned  int    `json:"planned"`
	ToRun    int    `json:"to_run"`
	DAG      string `json:"dag,omitempty"`
	Workers  int    `json:"workers,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

func toRunEntry(run journal.Run) runEntry {
	e := runEntry{
		ID:      run.ID,
		Started: run.StartedAt.Format(time.RFC3339),
		Outcome: run.Outcome,
		Planned: run.Planned,
		ToRun:   run.ToRun,
		DAG:     run.DAGPath,
		Workers: run.Workers,
		Force:   run.Force,
	}
	if run.Finished() {
		e.Finished = run.FinishedAt.Format(time.RFC3339)
	}
	return e
}

func renderRunList(ctx context.Context, f *OutputFormatter, j *journal.Journal, limit int) error {
	runs, err := j.RecentRuns(ctx, limit)
	if err != nil {
		return fail(f, ExitCommandError, "cannot read journal", err)
	}

	if f.JSON() {
		entries := make([]runEntry, 0, len(runs))
		for _, run := range runs {
			entries = append(entries, toRunEntry(run))
		}
		return f.Success(entries)
	}

	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "no runs recorded")
		return nil
	}
	for _, run := range runs {
		took := "-"
		if run.Finished() {
			took = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(f.Writer, "%s  %s  %-15s  %d planned  %d to run  %s\n",
			run.ID, run.StartedAt.Format(time.RFC3339), run.Outcome, run.Planned, run.ToRun, took)
	}
	return nil
}

func renderRunDetail(ctx context.Context, f *OutputFormatter, j *journal.Journal, token string) error {
	run, err := j.Run(ctx, token)
	if err != nil {
		return fail(f, ExitCommandError, fmt.Sprintf("cannot resolve run %q", token), err)
	}
	steps, err := j.RunSteps(ctx, run.ID)
	if err != nil {
		return fail(f, ExitCommandError, "cannot read journal", err)
	}

	if f.JSON() {
		type stepEntry struct {
			Seq      int64  `json:"seq"`
			URI      string `json:"uri"`
			Status   string `json:"status"`
			Reason   string `json:"reason,omitempty"`
			Error    string `json:"error,omitempty"`
			Checksum string `json:"checksum,omitempty"`
		}
		payload := struct {
			Run   runEntry    `json:"run"`
			Steps []stepEntry `json:"steps"`
		}{Run: toRunEntry(run), Steps: make([]stepEntry, 0, len(steps))}
		for _, s := range steps {
			payload.Steps = append(payload.Steps, stepEntry{
				Seq: s.Seq, URI: s.URI, Status: s.Status, Reason: s.Reason,
				Error: s.Error, Checksum: s.Checksum,
			})
		}
		return f.Success(payload)
	}

	fmt.Fprintf(f.Writer, "run %s\nstarted %s  outcome %s  %d planned  %d to run\n",
		run.ID, run.StartedAt.Format(time.RFC3339), run.Outcome, run.Planned, run.ToRun)
	for _, s := range steps {
		fmt.Fprintf(f.Writer, "  %3d  %-26s %s (%s)\n", s.Seq, s.Status, s.URI, s.Reason)
		if s.Error != "" {
			fmt.Fprintf(f.Writer, "       %s\n", s.Error)
		}
	}
	return nil
}
