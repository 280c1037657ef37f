package commands

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/config"
	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/sbdk-dev/sbdk/internal/pipeline"
	"github.com/sbdk-dev/sbdk/internal/state"
)

// Runtime holds the per-invocation dependencies shared by commands.
// The root command loads the project config once and stores a Runtime
// in the command context.
type Runtime struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

type runtimeKey struct{}

// WithRuntime returns a context carrying the runtime.
func WithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}

// RuntimeFrom retrieves the runtime from the context. Commands reached
// through the root command always find one; the fallback covers direct
// construction in tests.
func RuntimeFrom(ctx context.Context) *Runtime {
	if rt, ok := ctx.Value(runtimeKey{}).(*Runtime); ok {
		return rt
	}
	return &Runtime{
		Logger:   slog.New(slog.DiscardHandler),
		Renderer: output.NewRenderer(os.Stdout, os.Stderr, output.ModeAuto),
	}
}

// openStore opens the project's run-history database.
func openStore(rt *Runtime) (*state.Store, error) {
	return state.Open(rt.Cfg.StatePath(), rt.Logger)
}

// runOutcome aggregates everything a single invocation produced.
type runOutcome struct {
	RunID     string
	Steps     []pipeline.StepResult
	Transform []dbt.Result
	Duration  time.Duration
}

// runHooks are optional callbacks fired as a run progresses. The zero
// value disables them all.
type runHooks struct {
	onEvent          func(pipeline.Event)
	onTransformStart func()
	onTransformDone  func([]dbt.Result, error)
}

// executeRun runs the extraction pipeline and/or the dbt transform for
// an already-created run record, recording each step in the state
// store. The returned error is the first failure; the outcome covers
// whatever did run.
func executeRun(ctx context.Context, rt *Runtime, store *state.Store, rec *state.RunRecord, hooks runHooks) (*runOutcome, error) {
	started := time.Now()
	outcome := &runOutcome{RunID: rec.ID}

	fail := func(err error) (*runOutcome, error) {
		outcome.Duration = time.Since(started)
		if cerr := store.CompleteRun(ctx, rec.ID, state.RunStatusFailed, err.Error()); cerr != nil {
			rt.Logger.Warn("failed to record run failure", "run_id", rec.ID, "error", cerr)
		}
		return outcome, err
	}

	if rec.Kind != state.KindTransform {
		results, err := executePipelines(ctx, rt, hooks.onEvent)
		outcome.Steps = results
		for _, res := range results {
			recordStep(ctx, rt, store, state.StepRecord{
				RunID:    rec.ID,
				Name:     res.Name,
				ExitCode: res.ExitCode,
				Duration: res.Duration,
				Skipped:  res.Skipped,
			})
		}
		if err != nil {
			return fail(err)
		}
	}

	if rec.Kind != state.KindPipelines {
		if hooks.onTransformStart != nil {
			hooks.onTransformStart()
		}
		results, err := executeTransform(ctx, rt)
		outcome.Transform = results
		for _, res := range results {
			recordStep(ctx, rt, store, state.StepRecord{
				RunID:    rec.ID,
				Name:     "dbt " + res.Command,
				ExitCode: res.ExitCode,
				Duration: res.Duration,
			})
		}
		if hooks.onTransformDone != nil {
			hooks.onTransformDone(results, err)
		}
		if err != nil {
			return fail(err)
		}
	}

	outcome.Duration = time.Since(started)
	if err := store.CompleteRun(ctx, rec.ID, state.RunStatusSuccess, ""); err != nil {
		rt.Logger.Warn("failed to record run completion", "run_id", rec.ID, "error", err)
	}
	return outcome, nil
}

// executePipelines runs the extraction steps against the project's
// DuckDB database.
func executePipelines(ctx context.Context, rt *Runtime, onEvent func(pipeline.Event)) ([]pipeline.StepResult, error) {
	runner := pipeline.NewRunner(pipeline.Config{
		DatabasePath: rt.Cfg.DatabasePath,
		PipelinesDir: rt.Cfg.PipelinesPath,
		Params:       pipeline.FromEnv(),
		Logger:       rt.Logger,
		OnEvent:      onEvent,
	})
	return runner.Run(ctx)
}

// executeTransform makes sure the project's dbt profile exists, then
// runs `dbt run` and `dbt test`.
func executeTransform(ctx context.Context, rt *Runtime) ([]dbt.Result, error) {
	if err := dbt.EnsureProfiles(rt.Cfg.ProfilesDir, rt.Cfg.Project, rt.Cfg.DatabasePath); err != nil {
		return nil, err
	}
	runner := dbt.NewRunner(dbt.Config{
		ProjectDir:  rt.Cfg.TransformPath,
		ProfilesDir: rt.Cfg.ProfilesDir,
		Target:      rt.Cfg.Target,
		Logger:      rt.Logger,
	}, nil)
	return runner.Run(ctx)
}

func recordStep(ctx context.Context, rt *Runtime, store *state.Store, step state.StepRecord) {
	if err := store.RecordStep(ctx, step); err != nil {
		rt.Logger.Warn("failed to record step", "step", step.Name, "error", err)
	}
}

// runKind maps the run command's flags to a state kind.
func runKind(pipelinesOnly, dbtOnly bool) string {
	switch {
	case pipelinesOnly:
		return state.KindPipelines
	case dbtOnly:
		return state.KindTransform
	default:
		return state.KindAll
	}
}

// runTrigger reports how this invocation was started. The webhook
// listener sets SBDK_TRIGGER on the rebuild subprocess it spawns.
func runTrigger() string {
	if os.Getenv("SBDK_TRIGGER") == state.TriggerWebhook {
		return state.TriggerWebhook
	}
	return state.TriggerManual
}
