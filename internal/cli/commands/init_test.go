package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdk-dev/sbdk/internal/config"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name        string
		setupDir    func(t *testing.T, dir string) // setup before running
		args        []string
		wantErr     bool
		errContains string
		wantFiles   []string
	}{
		{
			name:    "init empty directory",
			args:    []string{},
			wantErr: false,
			wantFiles: []string{
				"sbdk_config.json",
				".gitignore",
				"README.md",
				"pipelines",
				"pipelines/README.md",
				"data",
				"dbt/dbt_project.yml",
				"dbt/models/sources.yml",
				"dbt/models/staging/stg_users.sql",
				"dbt/models/marts/daily_revenue.sql",
			},
		},
		{
			name: "init existing config without force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "sbdk_config.json"), []byte("{}"), 0600)
			},
			args:        []string{},
			wantErr:     true,
			errContains: "already exists",
		},
		{
			name:        "init unknown template",
			args:        []string{"--template", "nope"},
			wantErr:     true,
			errContains: "unknown template",
		},
		{
			name: "init existing config with force",
			setupDir: func(_ *testing.T, dir string) {
				_ = os.WriteFile(filepath.Join(dir, "sbdk_config.json"), []byte("{}"), 0600)
			},
			args:    []string{"--force"},
			wantErr: false,
			wantFiles: []string{
				"sbdk_config.json",
				"dbt/dbt_project.yml",
			},
		},
		{
			name:    "init named directory",
			args:    []string{"analytics"},
			wantErr: false,
			wantFiles: []string{
				"analytics/sbdk_config.json",
				"analytics/dbt/dbt_project.yml",
				"analytics/data",
				"analytics/pipelines",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Keep dbt profile registration out of the real ~/.dbt.
			t.Setenv("HOME", t.TempDir())

			// Create temp directory and change to it
			tmpDir := t.TempDir()
			oldWd, _ := os.Getwd()
			require.NoError(t, os.Chdir(tmpDir))
			defer func() { _ = os.Chdir(oldWd) }()

			// Run setup if provided
			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)

			// Check expected files exist
			for _, f := range tt.wantFiles {
				path := filepath.Join(tmpDir, f)
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "expected file/dir %q to exist", f)
			}
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
	assert.NotNil(t, cmd.Flags().Lookup("name"), "--name flag should exist")
	assert.NotNil(t, cmd.Flags().Lookup("template"), "--template flag should exist")
}

func TestInitCreatesValidConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldWd) }()

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--name", "myproj"})

	err := cmd.Execute()
	require.NoError(t, err)

	// Read and verify config content
	content, err := os.ReadFile("sbdk_config.json")
	require.NoError(t, err, "failed to read sbdk_config.json")

	expectedContents := []string{
		`"project": "myproj"`,
		`"target": "dev"`,
		`"pipelines_path": "pipelines"`,
		`"transform_path": "dbt"`,
		`"auto_reload": true`,
	}

	for _, expected := range expectedContents {
		assert.Contains(t, string(content), expected, "config should contain %q", expected)
	}

	// Loading back resolves every path field to an absolute path.
	cfg, err := config.Load("sbdk_config.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "myproj", cfg.Project)
	assert.True(t, filepath.IsAbs(cfg.DatabasePath), "database_path should be absolute, got %q", cfg.DatabasePath)
	assert.True(t, filepath.IsAbs(cfg.PipelinesPath), "pipelines_path should be absolute, got %q", cfg.PipelinesPath)
	assert.True(t, filepath.IsAbs(cfg.TransformPath), "transform_path should be absolute, got %q", cfg.TransformPath)

	// The dbt profile lands in the (isolated) home directory.
	_, err = os.Stat(filepath.Join(home, ".dbt", "profiles.yml"))
	assert.NoError(t, err, "profiles.yml should be registered")
}

func TestDefaultProjectName(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"my-project", "my_project"},
		{"/tmp/warehouse", "warehouse"},
		{"Data.Stack", "Data_Stack"},
		{"123", DefaultProjectName},
		{"___", DefaultProjectName},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultProjectName(tt.dir), "dir %q", tt.dir)
	}
}
