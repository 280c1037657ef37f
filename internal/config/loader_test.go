package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoad_NotFound(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load("", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo",`)

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo"}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, "dev", cfg.Target)
	assert.Equal(t, filepath.Join(dir, "data", "demo.duckdb"), cfg.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "pipelines"), cfg.PipelinesPath)
	assert.Equal(t, filepath.Join(dir, "dbt"), cfg.TransformPath)
	assert.Equal(t, 8000, cfg.WebhookPort)
	assert.True(t, cfg.AutoReload)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".dbt"), cfg.ProfilesDir)
}

func TestLoad_UpwardSearch(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, root, `{"project": "demo"}`)
	nested := filepath.Join(root, "dbt", "models")
	require.NoError(t, os.MkdirAll(nested, 0750))
	t.Chdir(nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project)

	// Paths anchor at the directory holding the config file, not the cwd.
	resolvedRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	resolvedCfgRoot, err := filepath.EvalSymlinks(cfg.ProjectRoot)
	require.NoError(t, err)
	assert.Equal(t, resolvedRoot, resolvedCfgRoot)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo"}`)

	t.Setenv("SBDK_TARGET", "prod")
	t.Setenv("SBDK_WEBHOOK_PORT", "9001")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Target)
	assert.Equal(t, 9001, cfg.WebhookPort)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo", "webhook_port": 8100}`)

	t.Setenv("SBDK_WEBHOOK_PORT", "8200")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8000, "")
	flags.String("host", "", "")
	require.NoError(t, flags.Parse([]string{"--port", "8300", "--host", "127.0.0.1"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8300, cfg.WebhookPort, "changed flag wins over env and file")
	assert.Equal(t, "127.0.0.1", cfg.WebhookHost)
}

func TestLoad_UnchangedFlagsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo", "webhook_port": 8100}`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8000, "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.WebhookPort, "default flag value must not mask the file")
}

func TestLoad_FreshEachInvocation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo", "target": "dev"}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.Target)

	// Rewrite the file; a second load must observe the change.
	writeConfigFile(t, dir, `{"project": "demo", "target": "prod"}`)

	cfg2, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg2.Target)
}

func TestLoad_AbsolutePathsKept(t *testing.T) {
	dir := t.TempDir()
	dbDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "elsewhere.duckdb")
	path := writeConfigFile(t, dir, `{"project": "demo", "database_path": "`+dbPath+`"}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.DatabasePath)
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo", "webhook_port": 99999}`)

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoad_EnvVarExpansionInPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SBDK_TEST_DATA_ROOT", "warehouse")
	path := writeConfigFile(t, dir, `{"project": "demo", "database_path": "${SBDK_TEST_DATA_ROOT}/demo.duckdb"}`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "warehouse", "demo.duckdb"), cfg.DatabasePath)
}

func TestLoad_CommaSeparatedWatchPathsFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, `{"project": "demo"}`)

	t.Setenv("SBDK_WATCH_PATHS", "pipelines,dbt/models,seeds")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.Len(t, cfg.WatchPaths, 3)
	assert.Equal(t, filepath.Join(dir, "seeds"), cfg.WatchPaths[2])
}

func TestFindConfigFile_Explicit(t *testing.T) {
	assert.Equal(t, "/x/sbdk_config.json", FindConfigFile("/x/sbdk_config.json"))
}
