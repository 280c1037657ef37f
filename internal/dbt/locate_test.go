package dbt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeExecutable drops a stub executable named name into dir.
func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

// isolateEnv points every resolution source at empty directories so
// tests see none of the host's tooling.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VIRTUAL_ENV", "")
	t.Setenv("CONDA_PREFIX", "")
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATH", t.TempDir())
}

func TestLocator_PrefersVirtualEnv(t *testing.T) {
	isolateEnv(t)

	venv := t.TempDir()
	want := writeExecutable(t, filepath.Join(venv, "bin"), "dbt")
	t.Setenv("VIRTUAL_ENV", venv)

	pathDir := t.TempDir()
	writeExecutable(t, pathDir, "dbt")
	t.Setenv("PATH", pathDir)

	inv, err := NewLocator().Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, inv.Path)
	assert.Equal(t, "virtualenv", inv.Source)
	assert.Empty(t, inv.Args)
}

func TestLocator_CondaWhenNoVirtualEnv(t *testing.T) {
	isolateEnv(t)

	conda := t.TempDir()
	want := writeExecutable(t, filepath.Join(conda, "bin"), "dbt")
	t.Setenv("CONDA_PREFIX", conda)

	inv, err := NewLocator().Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, inv.Path)
	assert.Equal(t, "conda", inv.Source)
}

func TestLocator_WellKnownDirs(t *testing.T) {
	isolateEnv(t)

	home := t.TempDir()
	want := writeExecutable(t, filepath.Join(home, ".local", "bin"), "dbt")
	t.Setenv("HOME", home)

	inv, err := NewLocator().Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, inv.Path)
}

func TestLocator_PathFallback(t *testing.T) {
	isolateEnv(t)

	pathDir := t.TempDir()
	want := writeExecutable(t, pathDir, "dbt")
	t.Setenv("PATH", pathDir)

	inv, err := NewLocator().Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, inv.Path)
	assert.Equal(t, "PATH", inv.Source)
}

func TestLocator_NotFound(t *testing.T) {
	isolateEnv(t)

	_, err := NewLocator().Resolve(context.Background())
	require.Error(t, err)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "uv add dbt-duckdb")
}

func TestLocator_CachesResolution(t *testing.T) {
	isolateEnv(t)

	venv := t.TempDir()
	want := writeExecutable(t, filepath.Join(venv, "bin"), "dbt")
	t.Setenv("VIRTUAL_ENV", venv)

	l := NewLocator()
	first, err := l.Resolve(context.Background())
	require.NoError(t, err)

	// Environment changes after the first resolution are ignored.
	t.Setenv("VIRTUAL_ENV", "")
	second, err := l.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, want, first.Path)
	assert.Equal(t, first, second)
}

func TestInvocation_String(t *testing.T) {
	assert.Equal(t, "/usr/bin/dbt", Invocation{Path: "/usr/bin/dbt"}.String())
	assert.Equal(t, "python3 -m dbt.cli.main",
		Invocation{Path: "python3", Args: []string{"-m", "dbt.cli.main"}}.String())
}
