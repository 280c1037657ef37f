package dbt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDbt installs a shell stub as the only dbt on PATH and returns a
// project directory carrying the dbt_project.yml marker.
func fakeDbt(t *testing.T, script string) (projectDir, profilesDir string) {
	t.Helper()
	isolateEnv(t)

	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(binDir, "dbt"), []byte(script), 0o755))
	t.Setenv("PATH", binDir)

	projectDir = t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(projectDir, ProjectMarker), []byte("name: demo\n"), 0o644))
	return projectDir, t.TempDir()
}

func TestRunner_RunExecutesRunThenTest(t *testing.T) {
	projectDir, profilesDir := fakeDbt(t,
		"#!/bin/sh\necho \"cmd:$1 profiles:$DBT_PROFILES_DIR\"\nexit 0\n")

	r := NewRunner(Config{
		ProjectDir:  projectDir,
		ProfilesDir: profilesDir,
	}, NewLocator())

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "run", results[0].Command)
	assert.Equal(t, "test", results[1].Command)
	for _, res := range results {
		assert.Zero(t, res.ExitCode)
		assert.Contains(t, res.Stdout, "profiles:"+profilesDir)
		assert.Greater(t, res.Duration, 0.0)
	}
}

func TestRunner_RunStopsOnFailure(t *testing.T) {
	projectDir, profilesDir := fakeDbt(t,
		"#!/bin/sh\nif [ \"$1\" = \"run\" ]; then echo \"compile error\" >&2; exit 3; fi\nexit 0\n")

	r := NewRunner(Config{
		ProjectDir:  projectDir,
		ProfilesDir: profilesDir,
	}, NewLocator())

	results, err := r.Run(context.Background())
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "run", runErr.Command)
	assert.Equal(t, 3, runErr.ExitCode)
	assert.Contains(t, runErr.Stderr, "compile error")

	require.Len(t, results, 1, "test does not run after run fails")
	assert.Equal(t, 3, results[0].ExitCode)
}

func TestRunner_PassesTargetFlag(t *testing.T) {
	projectDir, profilesDir := fakeDbt(t, "#!/bin/sh\necho \"$@\"\nexit 0\n")

	r := NewRunner(Config{
		ProjectDir:  projectDir,
		ProfilesDir: profilesDir,
		Target:      "prod",
	}, NewLocator())

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, results[0].Stdout, "--target prod")
	assert.Contains(t, results[0].Stdout, "--project-dir "+projectDir)
}

func TestRunner_DebugToleratesNonZeroExit(t *testing.T) {
	projectDir, profilesDir := fakeDbt(t,
		"#!/bin/sh\necho \"connection check failed\"\nexit 1\n")

	r := NewRunner(Config{
		ProjectDir:  projectDir,
		ProfilesDir: profilesDir,
	}, NewLocator())

	res, err := r.Debug(context.Background())
	require.NoError(t, err, "debug reports, it does not fail")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stdout, "connection check failed")
}

func TestRunner_MissingProjectMarker(t *testing.T) {
	_, profilesDir := fakeDbt(t, "#!/bin/sh\nexit 0\n")
	empty := t.TempDir()

	r := NewRunner(Config{
		ProjectDir:  empty,
		ProfilesDir: profilesDir,
	}, NewLocator())

	results, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ProjectMarker)
	assert.Empty(t, results)
}

func TestRunner_ResolvesProjectOneLevelDown(t *testing.T) {
	projectDir, profilesDir := fakeDbt(t, "#!/bin/sh\necho \"$@\"\nexit 0\n")

	// Move the marker into a child directory and point the runner at
	// the parent.
	parent := t.TempDir()
	child := filepath.Join(parent, "analytics")
	require.NoError(t, os.MkdirAll(child, 0o755))
	require.NoError(t, os.Rename(
		filepath.Join(projectDir, ProjectMarker),
		filepath.Join(child, ProjectMarker)))

	r := NewRunner(Config{
		ProjectDir:  parent,
		ProfilesDir: profilesDir,
	}, NewLocator())

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, results[0].Stdout, "--project-dir "+child)
}
