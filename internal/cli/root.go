// Package cli provides the command-line interface for SBDK.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sbdk-dev/sbdk/internal/cli/commands"
	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/config"
	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "sbdk",
		Short: "SBDK - Local-first data pipeline toolkit",
		Long: `SBDK scaffolds and runs local-first data pipelines built on DuckDB and dbt.

A project extracts synthetic or scripted source data into DuckDB, transforms
it with dbt, and can watch for file changes or listen for webhooks to rerun
the pipeline automatically.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Commands that must work outside a project directory skip
			// config loading.
			switch cmd.Name() {
			case "init", "version", "help", "completion", "__complete":
				return nil
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			logger := newLogger(cmd.ErrOrStderr(), verbose)

			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			outputFlag, _ := cmd.Flags().GetString("output")
			renderer := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(outputFlag))

			ctx := config.WithLogger(cmd.Context(), logger)
			ctx = commands.WithRuntime(ctx, &commands.Runtime{
				Cfg:      cfg,
				Logger:   logger,
				Renderer: renderer,
			})
			cmd.SetContext(ctx)

			logger.Debug("config loaded",
				"path", cfg.ConfigPath(),
				"project", cfg.Project,
				"target", cfg.Target)

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Local-first data pipelines with DuckDB and dbt
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sbdk_config.json)")
	rootCmd.PersistentFlags().StringP("target", "t", "", "dbt target to use (e.g., dev, prod)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format (auto|text|markdown|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "markdown", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("target", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"dev", "prod"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewInitCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewDevCommand())
	rootCmd.AddCommand(commands.NewWebhooksCommand())
	rootCmd.AddCommand(commands.NewDebugCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
// Pipeline and dbt subprocess failures propagate the child's exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, config.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "Run 'sbdk init' to create a new project.")
		return 1
	}

	var runErr *dbt.RunError
	if errors.As(err, &runErr) && runErr.ExitCode > 0 {
		return runErr.ExitCode
	}

	return 1
}

// newLogger builds the CLI logger. Verbose mode lowers the level to
// debug; otherwise only warnings and errors reach the terminal.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for SBDK.

To load completions:

Bash:
  $ source <(sbdk completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ sbdk completion bash > /etc/bash_completion.d/sbdk
  # macOS:
  $ sbdk completion bash > $(brew --prefix)/etc/bash_completion.d/sbdk

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ sbdk completion zsh > "${fpath[1]}/_sbdk"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ sbdk completion fish | source

  # To load completions for each session, execute once:
  $ sbdk completion fish > ~/.config/fish/completions/sbdk.fish

PowerShell:
  PS> sbdk completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> sbdk completion powershell > sbdk.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
	return cmd
}
