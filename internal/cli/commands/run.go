package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/config"
	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/sbdk-dev/sbdk/internal/pipeline"
	"github.com/sbdk-dev/sbdk/internal/state"
	"github.com/sbdk-dev/sbdk/internal/tui"
	"github.com/sbdk-dev/sbdk/internal/warehouse"
	"github.com/sbdk-dev/sbdk/internal/watch"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Visual        bool
	Watch         bool
	PipelinesOnly bool
	DbtOnly       bool
	Quiet         bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline and dbt transformations",
		Long: `Execute the full pipeline cycle: extraction steps load raw tables
into the project's DuckDB database, then dbt builds and tests the
models on top of them.

Every run is recorded in the project's run history (see 'sbdk debug').
With --watch the command keeps running and starts a new cycle whenever
a pipeline or model file changes.`,
		Example: `  # Run extraction and dbt
  sbdk run

  # Run with a live dashboard
  sbdk run --visual

  # Extraction only, skip dbt
  sbdk run --pipelines-only

  # Rebuild on file changes
  sbdk run --watch

  # JSON lines output for CI/CD integration
  sbdk run -o json`,
		Aliases: []string{"build"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Visual, "visual", false, "Show a live dashboard while the pipeline runs")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Keep running and rebuild on file changes")
	cmd.Flags().BoolVar(&opts.PipelinesOnly, "pipelines-only", false, "Run extraction steps only, skip dbt")
	cmd.Flags().BoolVar(&opts.DbtOnly, "dbt-only", false, "Run dbt only, skip extraction")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	if opts.PipelinesOnly && opts.DbtOnly {
		return fmt.Errorf("--pipelines-only and --dbt-only are mutually exclusive")
	}

	rt := RuntimeFrom(cmd.Context())
	rt.Renderer.SetQuiet(opts.Quiet)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(rt)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	kind := runKind(opts.PipelinesOnly, opts.DbtOnly)

	switch {
	case opts.Watch:
		return runWithWatch(ctx, rt, store, kind)
	case rt.Renderer.EffectiveMode() == output.ModeJSON:
		return runWithJSON(ctx, rt, store, kind)
	case opts.Visual && !opts.Quiet && rt.Renderer.IsTTY():
		return runWithDashboard(ctx, rt, store, kind)
	default:
		return runWithText(ctx, rt, store, kind)
	}
}

// runWithText executes one cycle with line-per-step text output.
func runWithText(ctx context.Context, rt *Runtime, store *state.Store, kind string) error {
	r := rt.Renderer

	output.FormatHeader(r, "Running pipeline: "+rt.Cfg.Project)
	r.Println("")

	rec, err := store.CreateRun(ctx, kind, runTrigger())
	if err != nil {
		return err
	}

	outcome, runErr := executeRun(ctx, rt, store, rec, runHooks{
		onEvent: stepPrinter(r),
	})

	if len(outcome.Transform) > 0 {
		r.Println("")
		printTransformResults(r, outcome.Transform)
	}
	if runErr != nil {
		return runErr
	}

	if kind != state.KindTransform {
		printWarehouseSummary(ctx, rt)
	}

	r.Println("")
	r.Success(fmt.Sprintf("Completed in %.2fs", outcome.Duration.Seconds()))
	return nil
}

// stepPrinter renders one line per finished extraction step. Skipped
// steps never emit a start event, so everything renders on finish.
func stepPrinter(r *output.Renderer) func(pipeline.Event) {
	styles := r.Styles()
	return func(ev pipeline.Event) {
		if ev.Kind != pipeline.EventStepFinished {
			return
		}
		res := ev.Result
		prefix := fmt.Sprintf("  [%d/%d] %-12s", ev.Index+1, ev.Total, ev.Step)
		switch {
		case res.Skipped:
			r.Printf("%s %s\n", prefix, styles.StatusSkipped)
		case res.Success():
			r.Printf("%s %s (%.2fs)\n", prefix, styles.StatusSuccess, res.Duration)
		default:
			r.Printf("%s %s (exit %d)\n", prefix, styles.StatusFailed, res.ExitCode)
		}
	}
}

func printTransformResults(r *output.Renderer, results []dbt.Result) {
	styles := r.Styles()
	for _, res := range results {
		label := fmt.Sprintf("  %-18s", "dbt "+res.Command)
		if res.ExitCode == 0 {
			r.Printf("%s %s (%.2fs)\n", label, styles.StatusSuccess, res.Duration)
		} else {
			r.Printf("%s %s (exit %d)\n", label, styles.StatusFailed, res.ExitCode)
		}
	}
}

// printWarehouseSummary lists table row counts after a successful run.
// Purely informational; failures here never fail the command.
func printWarehouseSummary(ctx context.Context, rt *Runtime) {
	r := rt.Renderer
	if r.Quiet() {
		// The table writer goes straight to the output stream and would
		// ignore quiet mode.
		return
	}
	if _, err := os.Stat(rt.Cfg.DatabasePath); err != nil {
		return
	}
	db, err := warehouse.Open(ctx, rt.Cfg.DatabasePath)
	if err != nil {
		rt.Logger.Warn("could not open warehouse for summary", "error", err)
		return
	}
	defer db.Close()

	stats, err := db.TableStats(ctx)
	if err != nil || len(stats) == 0 {
		return
	}
	r.Println("")
	r.Println("  " + r.Styles().Header2.Render("Warehouse"))
	renderTableStats(r, stats)
}

// runWithJSON executes one cycle with JSON lines output: run_start,
// step_start and step_complete per step, then run_complete.
func runWithJSON(ctx context.Context, rt *Runtime, store *state.Store, kind string) error {
	out := rt.Renderer.Out()

	var stepNames []string
	if kind != state.KindTransform {
		var err error
		if stepNames, err = stepNamesFor(rt); err != nil {
			return err
		}
	}

	rec, err := store.CreateRun(ctx, kind, runTrigger())
	if err != nil {
		return err
	}
	output.EmitRunEvent(out, output.RunEvent{Event: "run_start", RunID: rec.ID, Steps: stepNames})

	onEvent := func(ev pipeline.Event) {
		switch ev.Kind {
		case pipeline.EventStepStarted:
			output.EmitRunEvent(out, output.RunEvent{Event: "step_start", RunID: rec.ID, Step: ev.Step})
		case pipeline.EventStepFinished:
			res := ev.Result
			output.EmitRunEvent(out, output.RunEvent{
				Event:      "step_complete",
				RunID:      rec.ID,
				Step:       ev.Step,
				Status:     stepStatus(res),
				ExitCode:   res.ExitCode,
				DurationMS: int64(res.Duration * 1000),
			})
		}
	}

	outcome, runErr := executeRun(ctx, rt, store, rec, runHooks{onEvent: onEvent})

	for _, res := range outcome.Transform {
		status := string(state.RunStatusSuccess)
		if res.ExitCode != 0 {
			status = string(state.RunStatusFailed)
		}
		output.EmitRunEvent(out, output.RunEvent{
			Event:      "step_complete",
			RunID:      rec.ID,
			Step:       "dbt " + res.Command,
			Status:     status,
			ExitCode:   res.ExitCode,
			DurationMS: int64(res.Duration * 1000),
		})
	}

	successful, failed := tally(outcome)
	final := output.RunEvent{
		Event:      "run_complete",
		RunID:      rec.ID,
		Status:     "completed",
		TotalSteps: len(outcome.Steps) + len(outcome.Transform),
		Successful: successful,
		Failed:     failed,
		TotalMS:    outcome.Duration.Milliseconds(),
	}
	if runErr != nil {
		final.Status = string(state.RunStatusFailed)
		final.Error = runErr.Error()
	}
	output.EmitRunEvent(out, final)

	return runErr
}

func stepStatus(res *pipeline.StepResult) string {
	switch {
	case res.Skipped:
		return "skipped"
	case res.Success():
		return string(state.RunStatusSuccess)
	default:
		return string(state.RunStatusFailed)
	}
}

func tally(outcome *runOutcome) (successful, failed int) {
	for _, res := range outcome.Steps {
		switch {
		case res.Skipped:
		case res.Success():
			successful++
		default:
			failed++
		}
	}
	for _, res := range outcome.Transform {
		if res.ExitCode == 0 {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed
}

// runWithDashboard drives the bubbletea dashboard. The pipeline runs in
// a goroutine and reports through Program.Send; quitting the dashboard
// early cancels the run.
func runWithDashboard(ctx context.Context, rt *Runtime, store *state.Store, kind string) error {
	var stepNames []string
	if kind != state.KindTransform {
		var err error
		if stepNames, err = stepNamesFor(rt); err != nil {
			return err
		}
	}

	rec, err := store.CreateRun(ctx, kind, runTrigger())
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dash := tui.NewDashboard(stepNames, kind != state.KindPipelines)
	prog := tea.NewProgram(dash, tea.WithOutput(rt.Renderer.Out()))

	go func() {
		<-ctx.Done()
		prog.Quit()
	}()

	done := make(chan error, 1)
	go func() {
		_, runErr := executeRun(runCtx, rt, store, rec, runHooks{
			onEvent: func(ev pipeline.Event) {
				switch ev.Kind {
				case pipeline.EventStepStarted:
					prog.Send(tui.StepStartedMsg{Name: ev.Step, Index: ev.Index, Total: ev.Total})
				case pipeline.EventStepFinished:
					prog.Send(tui.StepFinishedMsg{Result: *ev.Result})
				}
			},
			onTransformStart: func() {
				prog.Send(tui.TransformStartedMsg{})
			},
			onTransformDone: func(results []dbt.Result, err error) {
				prog.Send(tui.TransformFinishedMsg{Results: results, Err: err})
			},
		})
		prog.Send(tui.DoneMsg{Err: runErr})
		done <- runErr
	}()

	model, progErr := prog.Run()
	if progErr != nil {
		cancel()
		<-done
		return progErr
	}

	final := model.(tui.Dashboard)
	if !final.Done() {
		// Quit before the run finished: stop the run and swallow the
		// resulting cancellation error.
		cancel()
		<-done
		return nil
	}
	return <-done
}

// runWithWatch keeps the process alive and rebuilds on changes.
func runWithWatch(ctx context.Context, rt *Runtime, store *state.Store, kind string) error {
	r := rt.Renderer
	styles := r.Styles()

	loop, err := newWatchLoop(rt, store, watchRunConfig{
		kind: kind,
		onStart: func(trigger string) {
			r.Println("")
			r.Println(styles.Bold.Render(fmt.Sprintf("Rebuild (%s)", trigger)))
		},
		onEvent: stepPrinter(r),
		onDone: func(outcome *runOutcome, err error) {
			if len(outcome.Transform) > 0 {
				printTransformResults(r, outcome.Transform)
			}
			if err != nil {
				r.Printf("  %s %v\n", styles.StatusFailed, err)
				return
			}
			r.Success(fmt.Sprintf("  Completed in %.2fs", outcome.Duration.Seconds()))
		},
	})
	if err != nil {
		return err
	}

	output.FormatHeader(r, "Watching: "+rt.Cfg.Project)
	for _, p := range rt.Cfg.WatchPaths {
		r.Printf("  %s\n", displayPath(rt.Cfg, p))
	}
	r.Println("")
	r.Println(styles.Muted.Render("Press Ctrl+C to stop."))

	if !rt.Cfg.AutoReload {
		loop.Post(watch.CmdToggleAuto)
	}
	loop.Post(watch.CmdRun)

	return loop.Run(ctx)
}

// watchRunConfig wires per-run callbacks into the shared watch loop.
// All callbacks are optional.
type watchRunConfig struct {
	kind     string
	debounce time.Duration
	onStart  func(trigger string)
	onEvent  func(pipeline.Event)
	onDone   func(*runOutcome, error)
}

// newWatchLoop builds the file watch loop shared by `run --watch` and
// `dev`. Every trigger creates its own run record.
func newWatchLoop(rt *Runtime, store *state.Store, wc watchRunConfig) (*watch.Loop, error) {
	if wc.kind == "" {
		wc.kind = state.KindAll
	}
	run := func(ctx context.Context, trigger string) error {
		if wc.onStart != nil {
			wc.onStart(trigger)
		}
		rec, err := store.CreateRun(ctx, wc.kind, trigger)
		if err != nil {
			return err
		}
		outcome, err := executeRun(ctx, rt, store, rec, runHooks{onEvent: wc.onEvent})
		if wc.onDone != nil {
			wc.onDone(outcome, err)
		}
		return err
	}
	return watch.New(watch.Config{
		Paths:    rt.Cfg.WatchPaths,
		Debounce: wc.debounce,
		Run:      run,
		Logger:   rt.Logger,
	})
}

// stepNamesFor resolves the extraction step order without running
// anything.
func stepNamesFor(rt *Runtime) ([]string, error) {
	runner := pipeline.NewRunner(pipeline.Config{
		DatabasePath: rt.Cfg.DatabasePath,
		PipelinesDir: rt.Cfg.PipelinesPath,
		Params:       pipeline.FromEnv(),
		Logger:       rt.Logger,
	})
	return runner.StepNames()
}

// displayPath shortens an absolute path to be project-relative when it
// sits inside the project.
func displayPath(cfg *config.Config, p string) string {
	if cfg.ProjectRoot == "" {
		return p
	}
	rel, err := filepath.Rel(cfg.ProjectRoot, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}
