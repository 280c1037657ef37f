package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Name     string  `json:"name"`
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Duration float64 `json:"duration"`
	Skipped  bool    `json:"skipped,omitempty"`
}

// Success reports whether the step ran and completed cleanly.
func (r StepResult) Success() bool {
	return !r.Skipped && r.ExitCode == 0
}

// EventKind distinguishes runner progress notifications.
type EventKind int

const (
	EventStepStarted EventKind = iota
	EventStepFinished
)

// Event is a progress notification emitted while a run is in flight.
type Event struct {
	Kind  EventKind
	Step  string
	Index int
	Total int

	// Result is set on EventStepFinished.
	Result *StepResult
}

// Config wires a Runner.
type Config struct {
	// DatabasePath is the DuckDB file the raw tables are written to.
	DatabasePath string

	// PipelinesDir holds project Starlark scripts. Optional; when the
	// directory is missing only the built-in generators run.
	PipelinesDir string

	Params Params
	Logger *slog.Logger

	// OnEvent, when set, receives progress notifications. Called from
	// the runner goroutine.
	OnEvent func(Event)
}

// Runner executes the extraction pipeline: the core steps in their
// canonical order, then any extra project scripts sorted by name. Steps
// run sequentially against a single database connection, and a failing
// step skips everything after it.
type Runner struct {
	cfg      Config
	registry *Registry
}

// NewRunner builds a Runner over the built-in generator registry.
func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{cfg: cfg, registry: NewRegistry()}
}

type resolvedStep struct {
	name      string
	extractor Extractor
}

// resolveSteps builds the execution plan. A pipelines/<core>.star file
// replaces that built-in; other *.star files append steps name-ordered.
func (r *Runner) resolveSteps() ([]resolvedStep, error) {
	steps := make([]resolvedStep, 0, len(CoreSteps))
	for _, name := range CoreSteps {
		if path, ok := r.scriptFor(name); ok {
			steps = append(steps, resolvedStep{name, NewScriptExtractor(name, path)})
			continue
		}
		e, ok := r.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("no extractor registered for step %q", name)
		}
		steps = append(steps, resolvedStep{name, e})
	}

	extra, err := r.extraScripts()
	if err != nil {
		return nil, err
	}
	steps = append(steps, extra...)
	return steps, nil
}

func (r *Runner) scriptFor(name string) (string, bool) {
	if r.cfg.PipelinesDir == "" {
		return "", false
	}
	path := filepath.Join(r.cfg.PipelinesDir, name+".star")
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, true
	}
	return "", false
}

func (r *Runner) extraScripts() ([]resolvedStep, error) {
	if r.cfg.PipelinesDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.cfg.PipelinesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pipelines dir: %w", err)
	}

	core := make(map[string]bool, len(CoreSteps))
	for _, name := range CoreSteps {
		core[name] = true
	}

	var steps []resolvedStep
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".star") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".star")
		if name == "" || core[name] || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(r.cfg.PipelinesDir, entry.Name())
		steps = append(steps, resolvedStep{name, NewScriptExtractor(name, path)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].name < steps[j].name })
	return steps, nil
}

// StepNames returns the resolved execution order without running.
func (r *Runner) StepNames() ([]string, error) {
	steps, err := r.resolveSteps()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names, nil
}

// Run executes every step in order. It always returns a result per step;
// the error is the first step failure, wrapped with the step name.
func (r *Runner) Run(ctx context.Context) ([]StepResult, error) {
	steps, err := r.resolveSteps()
	if err != nil {
		return nil, err
	}

	db, err := warehouse.Open(ctx, r.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results := make([]StepResult, 0, len(steps))
	var firstErr error

	for i, step := range steps {
		if firstErr != nil {
			res := StepResult{
				Name:    step.name,
				Skipped: true,
				Stderr:  "skipped: earlier step failed",
			}
			results = append(results, res)
			r.emit(Event{Kind: EventStepFinished, Step: step.name, Index: i, Total: len(steps), Result: &res})
			continue
		}

		r.emit(Event{Kind: EventStepStarted, Step: step.name, Index: i, Total: len(steps)})
		res := r.runStep(ctx, db, step)
		results = append(results, res)
		r.emit(Event{Kind: EventStepFinished, Step: step.name, Index: i, Total: len(steps), Result: &res})

		if res.ExitCode != 0 {
			firstErr = fmt.Errorf("pipeline step %s: %s", step.name, strings.TrimSpace(res.Stderr))
		}
	}

	return results, firstErr
}

func (r *Runner) runStep(ctx context.Context, db *warehouse.DB, step resolvedStep) StepResult {
	start := time.Now()
	res := StepResult{Name: step.name}

	fail := func(err error) StepResult {
		res.ExitCode = 1
		res.Stderr = err.Error()
		res.Duration = time.Since(start).Seconds()
		r.cfg.Logger.Error("pipeline step failed",
			"step", step.name, "error", err)
		return res
	}

	batch, err := step.extractor.Extract(ctx, r.cfg.Params)
	if err != nil {
		return fail(err)
	}

	loaded, err := db.Load(ctx, batch)
	if err != nil {
		return fail(err)
	}

	var out strings.Builder
	if printer, ok := step.extractor.(interface{ Output() string }); ok {
		out.WriteString(printer.Output())
	}
	fmt.Fprintf(&out, "Generated %d records\n", len(batch.Rows))
	fmt.Fprintf(&out, "Loaded %d rows into %s\n", loaded, batch.Table)

	res.Stdout = out.String()
	res.Duration = time.Since(start).Seconds()
	r.cfg.Logger.Info("pipeline step complete",
		"step", step.name, "rows", loaded, "duration", time.Since(start))
	return res
}

// Summary reports row counts for every table in the database.
func (r *Runner) Summary(ctx context.Context) ([]warehouse.TableStat, error) {
	db, err := warehouse.Open(ctx, r.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return db.TableStats(ctx)
}

func (r *Runner) emit(ev Event) {
	if r.cfg.OnEvent != nil {
		r.cfg.OnEvent(ev)
	}
}
