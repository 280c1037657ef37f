package dbt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// ProjectMarker is the file that identifies a dbt project directory.
const ProjectMarker = "dbt_project.yml"

// ResolveProjectDir returns the directory containing dbt_project.yml.
// The marker may sit in dir itself or exactly one level down; when
// several subdirectories qualify the lexicographically first wins, so
// resolution is stable across runs.
func ResolveProjectDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("transform path is empty")
	}
	if hasMarker(dir) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read transform dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		if hasMarker(sub) {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%s not found in %s or one level below", ProjectMarker, dir)
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ProjectMarker))
	return err == nil && !info.IsDir()
}

// ProjectFile models dbt_project.yml for scaffolding.
type ProjectFile struct {
	Name         string         `yaml:"name"`
	Version      string         `yaml:"version"`
	Profile      string         `yaml:"profile"`
	ModelPaths   []string       `yaml:"model-paths"`
	MacroPaths   []string       `yaml:"macro-paths"`
	SeedPaths    []string       `yaml:"seed-paths"`
	TestPaths    []string       `yaml:"test-paths"`
	TargetPath   string         `yaml:"target-path"`
	CleanTargets []string       `yaml:"clean-targets"`
	Models       map[string]any `yaml:"models"`
}

// NewProjectFile returns the scaffold dbt_project.yml for a project:
// staging models as views, marts as tables.
func NewProjectFile(project string) ProjectFile {
	return ProjectFile{
		Name:         project,
		Version:      "1.0.0",
		Profile:      project,
		ModelPaths:   []string{"models"},
		MacroPaths:   []string{"macros"},
		SeedPaths:    []string{"seeds"},
		TestPaths:    []string{"tests"},
		TargetPath:   "target",
		CleanTargets: []string{"target", "dbt_packages"},
		Models: map[string]any{
			project: map[string]any{
				"staging": map[string]any{"+materialized": "view"},
				"marts":   map[string]any{"+materialized": "table"},
			},
		},
	}
}

// WriteProjectFile writes dbt_project.yml into dir.
func WriteProjectFile(dir string, pf ProjectFile) error {
	data, err := goyaml.Marshal(pf)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ProjectMarker, err)
	}
	path := filepath.Join(dir, ProjectMarker)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// EnsureProfiles makes sure profilesDir/profiles.yml has an entry for
// the project pointing at the DuckDB file. Existing entries, including
// one already present for the project, are left untouched.
func EnsureProfiles(profilesDir, project, databasePath string) error {
	if err := os.MkdirAll(profilesDir, 0o755); err != nil {
		return fmt.Errorf("create profiles dir: %w", err)
	}
	path := filepath.Join(profilesDir, "profiles.yml")

	profiles := map[string]any{}
	if _, err := os.Stat(path); err == nil {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if k.Exists(project) {
			return nil
		}
		profiles = k.Raw()
	}

	profiles[project] = map[string]any{
		"target": "dev",
		"outputs": map[string]any{
			"dev": map[string]any{
				"type":    "duckdb",
				"path":    databasePath,
				"schema":  "main",
				"threads": 4,
			},
		},
	}

	data, err := goyaml.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadProfileTarget loads profiles.yml and returns the output settings
// for the project's configured target. Used by diagnostics.
func ReadProfileTarget(profilesDir, project string) (map[string]any, error) {
	path := filepath.Join(profilesDir, "profiles.yml")
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	target := k.String(project + ".target")
	if target == "" {
		return nil, fmt.Errorf("no profile for project %q in %s", project, path)
	}
	out := k.Get(project + ".outputs." + target)
	settings, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("profile %q has no output %q", project, target)
	}
	return settings, nil
}
