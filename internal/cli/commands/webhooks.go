package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/config"
	"github.com/sbdk-dev/sbdk/internal/webhook"
)

// WebhooksOptions holds options for the webhooks command.
type WebhooksOptions struct {
	Host   string
	Port   int
	Reload bool
}

// NewWebhooksCommand creates the webhooks command.
func NewWebhooksCommand() *cobra.Command {
	opts := &WebhooksOptions{}

	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Start the webhook listener",
		Long: `Start an HTTP listener for project registration, usage tracking,
and GitHub push webhooks.

A push to a main branch triggers 'sbdk run' in the background. With
--reload the listener restarts itself whenever sbdk_config.json
changes.

Triggered rebuilds run as separate processes with no cross-process
locking: don't run the listener and 'sbdk dev' against the same
database at the same time.`,
		Example: `  # Listen on the configured host and port
  sbdk webhooks

  # Override the port and restart on config changes
  sbdk webhooks --port 9000 --reload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWebhooks(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", config.DefaultWebhookHost, "Host to bind")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", config.DefaultWebhookPort, "Port to listen on")
	cmd.Flags().BoolVar(&opts.Reload, "reload", false, "Restart the listener when the config file changes")

	return cmd
}

func runWebhooks(cmd *cobra.Command, opts *WebhooksOptions) error {
	rt := RuntimeFrom(cmd.Context())
	r := rt.Renderer

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The listener serves until shutdown or, with --reload, until the
	// config file changes. On a change the config is reloaded from disk
	// and the server comes back up on possibly new host and port.
	for {
		cfg := rt.Cfg

		output.FormatHeader(r, "Webhook listener: "+cfg.Project)
		output.FormatKeyValue(r, "url", fmt.Sprintf("http://%s:%d", displayHost(cfg.WebhookHost), cfg.WebhookPort))
		output.FormatKeyValue(r, "health", fmt.Sprintf("http://%s:%d/health", displayHost(cfg.WebhookHost), cfg.WebhookPort))
		if opts.Reload {
			output.FormatKeyValue(r, "reload", "on config change")
		}
		r.Println("")
		r.Println(r.Styles().Muted.Render("Press Ctrl+C to stop."))

		srv := webhook.NewServer(webhook.Config{
			Host:       cfg.WebhookHost,
			Port:       cfg.WebhookPort,
			Version:    cmd.Root().Version,
			ConfigPath: cfg.ConfigPath(),
			Reload:     opts.Reload,
			Logger:     rt.Logger,
		})

		err := srv.Serve(ctx)
		if !errors.Is(err, webhook.ErrConfigChanged) {
			return err
		}

		r.Println("")
		r.Warning("config changed, restarting listener")

		reloaded, err := config.Load(cfg.ConfigPath(), cmd.Flags())
		if err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
		rt.Cfg = reloaded
	}
}

// displayHost rewrites the bind-all address to something clickable.
func displayHost(host string) string {
	if host == "0.0.0.0" || host == "::" || host == "" {
		return "localhost"
	}
	return host
}
