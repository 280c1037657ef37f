package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/watch"
)

// DevOptions holds options for the dev command.
type DevOptions struct {
	Watch         bool
	PipelinesOnly bool
	DbtOnly       bool
	Debounce      time.Duration
}

// NewDevCommand creates the dev command.
func NewDevCommand() *cobra.Command {
	opts := &DevOptions{}

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Watch for changes and rebuild automatically",
		Long: `Start dev mode: an initial pipeline run, then a file watcher that
rebuilds whenever pipeline scripts or dbt models change. Changes made
while a run is active coalesce into a single follow-up run.

An interactive console runs alongside the watcher; type h at the
prompt for the available commands. Set auto_reload to false in
sbdk_config.json to watch without rebuilding until triggered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Keep watching after the initial run")
	cmd.Flags().BoolVar(&opts.PipelinesOnly, "pipelines-only", false, "Run extraction steps only, skip dbt")
	cmd.Flags().BoolVar(&opts.DbtOnly, "dbt-only", false, "Run dbt only, skip extraction")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", watch.DefaultDebounce, "How long to wait after the last change before rebuilding")

	return cmd
}

func runDev(cmd *cobra.Command, opts *DevOptions) error {
	if opts.PipelinesOnly && opts.DbtOnly {
		return fmt.Errorf("--pipelines-only and --dbt-only are mutually exclusive")
	}

	rt := RuntimeFrom(cmd.Context())
	r := rt.Renderer
	styles := r.Styles()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(rt)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	kind := runKind(opts.PipelinesOnly, opts.DbtOnly)
	if !opts.Watch {
		return runWithText(ctx, rt, store, kind)
	}

	loop, err := newWatchLoop(rt, store, watchRunConfig{
		kind:     kind,
		debounce: opts.Debounce,
		onStart: func(trigger string) {
			r.Println("")
			r.Println(styles.Muted.Render(time.Now().Format("15:04:05") + "  rebuild (" + trigger + ")"))
		},
		onDone: func(outcome *runOutcome, err error) {
			if err != nil {
				r.Printf("%s %v\n", styles.StatusFailed, err)
				return
			}
			r.Printf("%s in %.2fs\n", styles.StatusSuccess, outcome.Duration.Seconds())
		},
	})
	if err != nil {
		return err
	}

	autoRun := "on"
	if !rt.Cfg.AutoReload {
		autoRun = "off"
	}

	output.FormatHeader(r, "SBDK dev: "+rt.Cfg.Project)
	output.FormatKeyValue(r, "auto-run", autoRun)
	output.FormatKeyValue(r, "debounce", opts.Debounce.String())
	for i, p := range rt.Cfg.WatchPaths {
		if i == 0 {
			output.FormatKeyValue(r, "watching", displayPath(rt.Cfg, p))
			continue
		}
		r.Printf("  %s %s\n", strings.Repeat(" ", len("watching:")), displayPath(rt.Cfg, p))
	}
	r.Println("")

	if !rt.Cfg.AutoReload {
		loop.Post(watch.CmdToggleAuto)
	}
	loop.Post(watch.CmdRun)

	console := watch.NewConsole(loop, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		return console.Run(gctx, stop)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dev mode: %w", err)
	}
	return nil
}
