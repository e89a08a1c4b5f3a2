package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/catalog"
	"github.com/roach88/harvest/internal/checksum"
	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/dag"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/journal"
	"github.com/roach88/harvest/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DAGPath    string
	DryRun     bool
	Force      bool
	Only       bool
	Downstream bool
	Excludes   []string
	Workers    int
	Timeout    time.Duration
	Strict     bool

	// Runner overrides the step runner (for testing). Nil means the
	// conventional channel-dispatch runner.
	Runner runner.Runner

	// TokenGenerator overrides run token generation (for testing). Nil
	// means UUIDv7 tokens.
	TokenGenerator engine.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [patterns...]",
		Short: "Execute the steps whose inputs changed",
		Long: `Run the selected steps in dependency order, skipping every step whose
recorded checksum already matches its current inputs.

With no patterns every step is selected. Patterns match step URIs
(<channel>/<namespace>/<version>/<short_name>) as globs; matched steps pull
in their transitive dependencies so the selection is always runnable.

Example:
  harvest run
  harvest run 'garden/demography/**' --workers 4
  harvest run --only garden/demography/2024-07-15/population
  harvest run 'snapshot/**' --downstream --dry-run`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DAGPath, "dag", catalog.DefaultDAGPath, "definition document, relative to the workspace")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan and report without executing or writing anything")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run explicitly matched steps even when clean")
	cmd.Flags().BoolVar(&opts.Only, "only", false, "match exact URIs and skip dependency expansion")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", false, "also select every transitive dependent of the matches")
	cmd.Flags().StringArrayVar(&opts.Excludes, "exclude", nil, "drop matching steps after expansion (repeatable)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "steps to run concurrently (default from configuration)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-step timeout, zero for none (default from configuration)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a pattern matches no step")

	return cmd
}

func runRun(opts *RunOptions, patterns []string, cmd *cobra.Command) error {
	settings, err := resolveSettings(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dag") {
		settings.DAGPath = opts.DAGPath
	}
	if flags.Changed("workers") {
		settings.Workers = opts.Workers
	}
	if flags.Changed("timeout") {
		settings.Timeout = opts.Timeout
	}
	if flags.Changed("strict") {
		settings.Strict = opts.Strict
	}
	if err := settings.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	formatter := &OutputFormatter{Format: settings.Format, Writer: cmd.OutOrStdout()}

	// A dry run reads the workspace without touching it, so it shares the
	// lock with other readers instead of excluding them.
	lock, err := acquireLock(settings.Workspace, opts.DryRun)
	if err != nil {
		return fail(formatter, ExitCommandError, "cannot lock workspace", err)
	}
	defer releaseLock(lock)

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
	plan, err := engine.BuildPlan(g, sums, sel, engine.PlanOptions{Force: opts.Force})
	if err != nil {
		return fail(formatter, ExitCommandError, "cannot plan run", err)
	}

	run := opts.Runner
	if run == nil {
		run = runner.NewConventional()
	}
	execOpts := []engine.Option{
		engine.WithWorkers(settings.Workers),
		engine.WithStepTimeout(settings.Timeout),
	}
	if opts.TokenGenerator != nil {
		execOpts = append(execOpts, engine.WithTokenGenerator(opts.TokenGenerator))
	}

	if opts.DryRun {
		exec := engine.New(settings.Workspace, g, sums, run, execOpts...)
		report := exec.DryRun(plan)
		return renderReport(formatter, report)
	}

	// The journal is observability: a workspace where it cannot be opened
	// still runs, it just goes unrecorded.
	if j, jerr := journal.Open(catalog.JournalPath(settings.Workspace)); jerr != nil {
		slog.Warn("journal unavailable; run will not be recorded", "error", jerr)
	} else {
		defer func() {
			if cerr := j.Close(); cerr != nil {
				slog.Warn("closing journal", "error", cerr)
			}
		}()
		execOpts = append(execOpts, engine.WithHook(journal.NewRecorder(j, journal.RunMeta{
			DAGPath: settings.DAGPath,
			Workers: settings.Workers,
			Force:   opts.Force,
		})))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	exec := engine.New(settings.Workspace, g, sums, run, execOpts...)
	report, err := exec.Execute(ctx, plan)
	if err != nil {
		return fail(formatter, ExitCommandError, "run aborted", err)
	}
	if err := renderReport(formatter, report); err != nil {
		return err
	}
	if code := report.ExitCode(); code != ExitSuccess {
		return NewExitError(code, fmt.Sprintf("run finished: %s", report.Outcome))
	}
	return nil
}

// acquireLock takes the workspace lock, shared for read-only invocations.
func acquireLock(workspace string, shared bool) (*catalog.Lock, error) {
	if shared {
		return catalog.AcquireSharedLock(workspace)
	}
	return catalog.AcquireLock(workspace)
}

func releaseLock(lock *catalog.Lock) {
	if err := lock.Release(); err != nil {
		slog.Warn("releasing workspace lock", "error", err)
	}
}

// loadSelection loads the definition document, builds the graph and
// resolves the selection patterns against it.
func loadSelection(settings *config.Settings, patterns []string, opts dag.SelectOptions) (*dag.Graph, *dag.Selection, error) {
	def, err := dag.LoadDefinition(filepath.Join(settings.Workspace, settings.DAGPath))
	if err != nil {
		return nil, nil, err
	}
	g, err := dag.Build(def)
	if err != nil {
		return nil, nil, err
	}
	sel, err := dag.Select(g, patterns, opts)
	if err != nil {
		return nil, nil, err
	}
	return g, sel, nil
}

// signalContext derives a context cancelled by SIGINT or SIGTERM, on top of
// the command's context so tests can cancel runs too.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// reportPayload is the JSON shape of a run report.
type reportPayload struct {
	RunID    string        `json:"run_id"`
	DryRun   bool          `json:"dry_run,omitempty"`
	Outcome  string        `json:"outcome"`
	Planned  int           `json:"planned"`
	Executed int           `json:"executed"`
	Failed   int           `json:"failed"`
	Steps    []stepPayload `json:"steps"`
}

type stepPayload struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

func renderReport(f *OutputFormatter, report *engine.Report) error {
	if f.JSON() {
		payload := reportPayload{
			RunID:    report.RunID,
			DryRun:   report.DryRun,
			Outcome:  string(report.Outcome),
			Planned:  len(report.Steps),
			Executed: report.Count(engine.StatusSucceeded) + report.Count(engine.StatusFailed),
			Failed:   report.Count(engine.StatusFailed),
		}
		for _, res := range report.Steps {
			sp := stepPayload{URI: res.Step.String(), Status: res.Status.String(), Reason: string(res.Reason)}
			if res.Err != nil {
				sp.Error = res.Err.Error()
			}
			payload.Steps = append(payload.Steps, sp)
		}
		return f.Success(payload)
	}

	w := f.Writer
	if report.DryRun {
		fmt.Fprintf(w, "dry run %s\n", report.RunID)
	} else {
		fmt.Fprintf(w, "run %s\n", report.RunID)
	}
	for _, res := range report.Steps {
		renderStepLine(w, res, report.DryRun)
	}
	fmt.Fprintf(w, "%s: %d planned, %d ran, %d failed, %d skipped\n",
		report.Outcome,
		len(report.Steps),
		report.Count(engine.StatusSucceeded)+report.Count(engine.StatusFailed),
		report.Count(engine.StatusFailed),
		report.Count(engine.StatusSkippedClean)+report.Count(engine.StatusSkippedFailure)+report.Count(engine.StatusSkippedCancelled))
	return nil
}

func renderStepLine(w io.Writer, res engine.StepResult, dryRun bool) {
	status := res.Status.String()
	if dryRun && res.Status == engine.StatusPending {
		status = "would-run"
	}
	fmt.Fprintf(w, "  %-26s %s (%s)\n", status, res.Step, res.Reason)
	if res.Err != nil {
		fmt.Fprintf(w, "      %v\n", res.Err)
	}
}
