package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/sbdk-dev/sbdk/internal/state"
	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

// DebugOptions holds options for the debug command.
type DebugOptions struct {
	Full    bool
	DbtOnly bool
	History int
}

// NewDebugCommand creates the debug command.
func NewDebugCommand() *cobra.Command {
	opts := &DebugOptions{}
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Show project diagnostics",
		Long: `Inspect the project from one place: the loaded configuration, the
dbt installation the transform runner would use, warehouse contents,
and recent run history.

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Show diagnostics
  sbdk debug

  # Include 'dbt debug' connectivity checks (slower)
  sbdk debug --full

  # Only the dbt section
  sbdk debug --dbt-only

  # Machine-readable output
  sbdk debug -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDebug(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "Run 'dbt debug' as part of the diagnostics")
	cmd.Flags().BoolVar(&opts.DbtOnly, "dbt-only", false, "Show dbt diagnostics only")
	cmd.Flags().IntVar(&opts.History, "history", 5, "Number of recent runs to show")

	return cmd
}

// DebugOutput is the JSON output for the debug command.
type DebugOutput struct {
	Project   ProjectInfo   `json:"project"`
	Dbt       DbtInfo       `json:"dbt"`
	Warehouse WarehouseInfo `json:"warehouse"`
	History   HistoryInfo   `json:"history"`
}

// ProjectInfo summarizes the loaded configuration.
type ProjectInfo struct {
	Name          string   `json:"name"`
	Root          string   `json:"root"`
	Target        string   `json:"target"`
	DatabasePath  string   `json:"database_path"`
	PipelinesPath string   `json:"pipelines_path"`
	TransformPath string   `json:"transform_path"`
	ProfilesDir   string   `json:"profiles_dir"`
	Steps         []string `json:"steps,omitempty"`
	StepsError    string   `json:"steps_error,omitempty"`
}

// DbtInfo describes the dbt installation and project layout.
type DbtInfo struct {
	Found      bool        `json:"found"`
	Command    string      `json:"command,omitempty"`
	Source     string      `json:"source,omitempty"`
	ProjectDir string      `json:"project_dir,omitempty"`
	Error      string      `json:"error,omitempty"`
	Debug      *dbt.Result `json:"debug,omitempty"`
}

// WarehouseInfo lists the tables in the project database.
type WarehouseInfo struct {
	Path   string                `json:"path"`
	Exists bool                  `json:"exists"`
	Tables []warehouse.TableStat `json:"tables,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// HistoryInfo summarizes recorded runs.
type HistoryInfo struct {
	Stats  *state.Stats       `json:"stats,omitempty"`
	Recent []*state.RunRecord `json:"recent,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runDebug(cmd *cobra.Command, opts *DebugOptions) error {
	rt := RuntimeFrom(cmd.Context())
	r := rt.Renderer
	ctx := cmd.Context()

	if opts.DbtOnly {
		info := buildDbtInfo(ctx, rt, opts.Full)
		switch r.EffectiveMode() {
		case output.ModeJSON:
			return r.JSON(struct {
				Dbt DbtInfo `json:"dbt"`
			}{info})
		case output.ModeMarkdown:
			renderDbtMarkdown(r, info)
			return nil
		default:
			styles := r.Styles()
			r.Println("")
			r.Println(styles.Header2.Render("dbt"))
			renderDbtText(r, info)
			r.Println("")
			return nil
		}
	}

	debugOutput := &DebugOutput{
		Project:   buildProjectInfo(rt),
		Dbt:       buildDbtInfo(ctx, rt, opts.Full),
		Warehouse: buildWarehouseInfo(ctx, rt),
		History:   buildHistoryInfo(ctx, rt, opts.History),
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(debugOutput)
	case output.ModeMarkdown:
		return renderDebugMarkdown(r, debugOutput)
	default:
		return renderDebugText(r, debugOutput)
	}
}

func buildProjectInfo(rt *Runtime) ProjectInfo {
	info := ProjectInfo{
		Name:          rt.Cfg.Project,
		Root:          rt.Cfg.ProjectRoot,
		Target:        rt.Cfg.Target,
		DatabasePath:  rt.Cfg.DatabasePath,
		PipelinesPath: rt.Cfg.PipelinesPath,
		TransformPath: rt.Cfg.TransformPath,
		ProfilesDir:   rt.Cfg.ProfilesDir,
	}
	steps, err := stepNamesFor(rt)
	if err != nil {
		info.StepsError = err.Error()
	} else {
		info.Steps = steps
	}
	return info
}

func buildDbtInfo(ctx context.Context, rt *Runtime, full bool) DbtInfo {
	info := DbtInfo{}

	inv, err := dbt.NewLocator().Resolve(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Found = true
	info.Command = inv.String()
	info.Source = inv.Source

	projectDir, err := dbt.ResolveProjectDir(rt.Cfg.TransformPath)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.ProjectDir = projectDir

	if full {
		if err := dbt.EnsureProfiles(rt.Cfg.ProfilesDir, rt.Cfg.Project, rt.Cfg.DatabasePath); err != nil {
			info.Error = err.Error()
			return info
		}
		runner := dbt.NewRunner(dbt.Config{
			ProjectDir:  rt.Cfg.TransformPath,
			ProfilesDir: rt.Cfg.ProfilesDir,
			Target:      rt.Cfg.Target,
			Logger:      rt.Logger,
		}, nil)
		res, err := runner.Debug(ctx)
		if err != nil {
			info.Error = err.Error()
			return info
		}
		info.Debug = res
	}

	return info
}

func buildWarehouseInfo(ctx context.Context, rt *Runtime) WarehouseInfo {
	info := WarehouseInfo{Path: rt.Cfg.DatabasePath}

	// Opening DuckDB creates the file, so stat first: debug must never
	// scaffold an empty database.
	if _, err := os.Stat(info.Path); err != nil {
		return info
	}
	info.Exists = true

	db, err := warehouse.Open(ctx, info.Path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer db.Close()

	stats, err := db.TableStats(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Tables = stats
	return info
}

func buildHistoryInfo(ctx context.Context, rt *Runtime, limit int) HistoryInfo {
	info := HistoryInfo{}

	store, err := openStore(rt)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Stats = stats

	recent, err := store.RecentRuns(ctx, limit)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Recent = recent
	return info
}

func renderDebugText(r *output.Renderer, out *DebugOutput) error {
	styles := r.Styles()

	// Header
	r.Println("")
	r.Println(styles.Header1.Render("SBDK Project Diagnostics"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	// Project
	r.Println(styles.Header2.Render("Project"))
	output.FormatKeyValue(r, "name", out.Project.Name)
	output.FormatKeyValue(r, "root", out.Project.Root)
	output.FormatKeyValue(r, "target", out.Project.Target)
	output.FormatKeyValue(r, "database", out.Project.DatabasePath)
	output.FormatKeyValue(r, "pipelines", out.Project.PipelinesPath)
	output.FormatKeyValue(r, "transform", out.Project.TransformPath)
	output.FormatKeyValue(r, "profiles", out.Project.ProfilesDir)
	if out.Project.StepsError != "" {
		output.FormatKeyValue(r, "steps", styles.Error.Render(out.Project.StepsError))
	} else {
		output.FormatKeyValue(r, "steps", strings.Join(out.Project.Steps, ", "))
	}
	r.Println("")

	// dbt
	r.Println(styles.Header2.Render("dbt"))
	renderDbtText(r, out.Dbt)
	r.Println("")

	// Warehouse
	r.Println(styles.Header2.Render("Warehouse"))
	switch {
	case !out.Warehouse.Exists:
		r.Printf("   %s (not created yet, run 'sbdk run')\n", out.Warehouse.Path)
	case out.Warehouse.Error != "":
		r.Printf("   %s %s\n", styles.StatusFailed, out.Warehouse.Error)
	case len(out.Warehouse.Tables) == 0:
		r.Println("   (0 tables)")
	default:
		renderTableStats(r, out.Warehouse.Tables)
	}
	r.Println("")

	// Run history
	r.Println(styles.Header2.Render("Run History"))
	switch {
	case out.History.Error != "":
		r.Printf("   %s %s\n", styles.StatusFailed, out.History.Error)
	case out.History.Stats == nil || out.History.Stats.TotalRuns == 0:
		r.Println("   No runs recorded yet")
	default:
		s := out.History.Stats
		r.Printf("   Total: %d | Succeeded: %d | Failed: %d\n", s.TotalRuns, s.Succeeded, s.Failed)
		renderRunHistory(r, out.History.Recent)
	}
	r.Println("")

	return nil
}

func renderDbtMarkdown(r *output.Renderer, info DbtInfo) {
	r.Println("## dbt")
	r.Println("")
	if info.Found {
		r.Printf("- **Command**: `%s` (%s)\n", info.Command, info.Source)
		r.Printf("- **Project Dir**: %s\n", info.ProjectDir)
	}
	if info.Error != "" {
		r.Printf("- **Error**: %s\n", info.Error)
	}
	if info.Debug != nil {
		status := "ok"
		if info.Debug.ExitCode != 0 {
			status = fmt.Sprintf("failed (exit %d)", info.Debug.ExitCode)
		}
		r.Printf("- **dbt debug**: %s\n", status)
	}
	r.Println("")
}

func renderDbtText(r *output.Renderer, info DbtInfo) {
	styles := r.Styles()
	if info.Found {
		r.Printf("   %s %s (%s)\n", styles.StatusSuccess, info.Command, info.Source)
		if info.ProjectDir != "" {
			output.FormatKeyValue(r, "project dir", info.ProjectDir)
		}
	}
	if info.Error != "" {
		r.Printf("   %s %s\n", styles.StatusFailed, info.Error)
	}
	if info.Debug != nil {
		if info.Debug.ExitCode == 0 {
			r.Printf("   %s dbt debug (%.2fs)\n", styles.StatusSuccess, info.Debug.Duration)
		} else {
			r.Printf("   %s dbt debug (exit %d)\n", styles.StatusFailed, info.Debug.ExitCode)
			for _, line := range lastLines(info.Debug.Stdout, 5) {
				r.Println(styles.Muted.Render("       " + line))
			}
		}
	}
}

func renderTableStats(r *output.Renderer, stats []warehouse.TableStat) {
	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Rows"})
	for _, st := range stats {
		t.AppendRow(table.Row{st.Name, st.RowCount})
	}
	t.Render()
}

func renderRunHistory(r *output.Renderer, recs []*state.RunRecord) {
	if len(recs) == 0 {
		return
	}
	titleCaser := cases.Title(language.English)

	t := table.NewWriter()
	t.SetOutputMirror(r.Out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Run", "Kind", "Trigger", "Status", "Started", "Duration"})
	for _, rec := range recs {
		t.AppendRow(table.Row{
			shortID(rec.ID),
			rec.Kind,
			titleCaser.String(rec.Trigger),
			titleCaser.String(string(rec.Status)),
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(rec),
		})
	}
	t.Render()
}

func renderDebugMarkdown(r *output.Renderer, out *DebugOutput) error {
	r.Println("# SBDK Project Diagnostics")
	r.Println("")

	// Project
	r.Println("## Project")
	r.Println("")
	r.Printf("- **Name**: %s\n", out.Project.Name)
	r.Printf("- **Root**: %s\n", out.Project.Root)
	r.Printf("- **Target**: %s\n", out.Project.Target)
	r.Printf("- **Database**: %s\n", out.Project.DatabasePath)
	r.Printf("- **Pipelines**: %s\n", out.Project.PipelinesPath)
	r.Printf("- **Transform**: %s\n", out.Project.TransformPath)
	if out.Project.StepsError != "" {
		r.Printf("- **Steps**: ERROR %s\n", out.Project.StepsError)
	} else {
		r.Printf("- **Steps**: %s\n", strings.Join(out.Project.Steps, ", "))
	}
	r.Println("")

	renderDbtMarkdown(r, out.Dbt)

	// Warehouse
	r.Println("## Warehouse")
	r.Println("")
	switch {
	case !out.Warehouse.Exists:
		r.Printf("Not created yet (%s)\n", out.Warehouse.Path)
	case out.Warehouse.Error != "":
		r.Printf("Error: %s\n", out.Warehouse.Error)
	case len(out.Warehouse.Tables) == 0:
		r.Println("(0 tables)")
	default:
		r.Println("| Table | Rows |")
		r.Println("| --- | --- |")
		for _, st := range out.Warehouse.Tables {
			r.Printf("| %s | %d |\n", st.Name, st.RowCount)
		}
	}
	r.Println("")

	// Run history
	r.Println("## Run History")
	r.Println("")
	switch {
	case out.History.Error != "":
		r.Printf("Error: %s\n", out.History.Error)
	case out.History.Stats == nil || out.History.Stats.TotalRuns == 0:
		r.Println("No runs recorded yet")
	default:
		s := out.History.Stats
		r.Printf("- **Total Runs**: %d\n", s.TotalRuns)
		r.Printf("- **Succeeded**: %d\n", s.Succeeded)
		r.Printf("- **Failed**: %d\n", s.Failed)
		r.Println("")
		r.Println("| Run | Kind | Trigger | Status | Started | Duration |")
		r.Println("| --- | --- | --- | --- | --- | --- |")
		for _, rec := range out.History.Recent {
			r.Printf("| %s | %s | %s | %s | %s | %s |\n",
				shortID(rec.ID), rec.Kind, rec.Trigger, rec.Status,
				rec.StartedAt.UTC().Format(time.RFC3339), runDuration(rec))
		}
	}
	r.Println("")

	return nil
}

// shortID truncates a run UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runDuration(rec *state.RunRecord) string {
	if rec.CompletedAt == nil {
		return "running"
	}
	return rec.CompletedAt.Sub(rec.StartedAt).Round(10 * time.Millisecond).String()
}

// lastLines returns up to n trailing non-empty lines of s.
func lastLines(s string, n int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
