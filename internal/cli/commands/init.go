package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
	"github.com/sbdk-dev/sbdk/internal/config"
	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/spf13/cobra"
)

// DefaultProjectName is used when no name is given and the target
// directory yields no usable one.
const DefaultProjectName = "sbdk_project"

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var name string
	var template string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new SBDK project",
		Long: `Initialize a new SBDK project with default structure and configuration.

This creates:
  - sbdk_config.json configuration file
  - pipelines/ directory for extraction scripts
  - dbt/ project with staging and marts models
  - data/ directory for the DuckDB database

A dbt profile for the project is registered in ~/.dbt/profiles.yml.`,
		Example: `  # Initialize in the current directory
  sbdk init

  # Initialize in a new directory
  sbdk init my-project

  # Pick the project name explicitly
  sbdk init --name analytics

  # Overwrite an existing configuration
  sbdk init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			// The output flag only exists when reached through the root
			// command.
			mode, _ := cmd.Flags().GetString("output")
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(mode))

			return runInit(r, dir, name, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().StringVar(&name, "name", "", "Project name (default: directory name)")
	cmd.Flags().StringVar(&template, "template", config.DefaultTemplate, "Project template to scaffold from")

	return cmd
}

func runInit(r *output.Renderer, dir, name, template string, force bool) error {
	if !templateExists(template) {
		names, _ := listTemplates()
		return fmt.Errorf("unknown template %q (available: %s)", template, strings.Join(names, ", "))
	}

	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	if name == "" {
		name = defaultProjectName(dir)
	}

	cfg := config.New(name)
	cfg.Template = template
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Scaffold files
	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize project: %w", err)
	}
	if err := config.Write(configPath, cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// dbt project file carries the project name, so it is generated
	// rather than copied.
	dbtDir := filepath.Join(dir, cfg.TransformPath)
	projectYml := filepath.Join(dbtDir, dbt.ProjectMarker)
	if _, err := os.Stat(projectYml); errors.Is(err, os.ErrNotExist) || force {
		if err := dbt.WriteProjectFile(dbtDir, dbt.NewProjectFile(name)); err != nil {
			return err
		}
	}

	// Register the dbt profile globally; dbt resolves the database by
	// absolute path so the profile works from any working directory.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	profilesDir := config.ExpandHome(cfg.ProfilesDir)
	databasePath := filepath.Join(absDir, cfg.DatabasePath)
	if err := dbt.EnsureProfiles(profilesDir, name, databasePath); err != nil {
		r.Warning(fmt.Sprintf("could not update dbt profiles: %v", err))
	}

	// List created files
	styles := r.Styles()
	files, _ := listTemplateFiles(template)
	files = append([]string{config.ConfigFileName, filepath.Join(cfg.TransformPath, dbt.ProjectMarker)}, files...)
	for _, f := range files {
		r.Printf("  %s %s\n", styles.Success.Render("+"), f)
	}

	r.Println("")
	r.Success(fmt.Sprintf("SBDK project %q initialized!", name))
	r.Println("")
	r.Println("Next steps:")
	if dir != "." {
		r.Printf("  cd %s\n", dir)
	}
	r.Println("  sbdk run      Extract, load, and transform sample data")
	r.Println("  sbdk dev      Watch for changes and rerun automatically")
	r.Println("  sbdk debug    Inspect the environment and run history")

	return nil
}

var nameCleanRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// defaultProjectName derives a project name from the target directory.
// dbt rejects dashes in project names, so they become underscores.
func defaultProjectName(dir string) string {
	if dir == "." {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		}
	}
	base := filepath.Base(dir)
	name := nameCleanRe.ReplaceAllString(base, "_")
	name = strings.Trim(name, "_")
	if name == "" || !asciiLetterStart(name) {
		return DefaultProjectName
	}
	return name
}

func asciiLetterStart(s string) bool {
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
