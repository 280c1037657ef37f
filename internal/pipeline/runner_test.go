package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdk-dev/sbdk/internal/warehouse"
)

func testRunner(t *testing.T, pipelinesDir string, params Params) (*Runner, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.duckdb")
	r := NewRunner(Config{
		DatabasePath: dbPath,
		PipelinesDir: pipelinesDir,
		Params:       params,
	})
	return r, dbPath
}

func tableCount(t *testing.T, dbPath, table string) int64 {
	t.Helper()
	ctx := context.Background()
	db, err := warehouse.Open(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.TableCount(ctx, table)
	require.NoError(t, err)
	return n
}

func TestRunner_RunsCoreStepsInOrder(t *testing.T) {
	r, dbPath := testRunner(t, "", fixedParams(100, 500, 200))

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, name := range []string{"users", "events", "orders"} {
		assert.Equal(t, name, results[i].Name)
		assert.True(t, results[i].Success())
		assert.Zero(t, results[i].ExitCode)
		assert.Contains(t, results[i].Stdout, "Loaded")
		assert.Greater(t, results[i].Duration, 0.0)
	}

	assert.EqualValues(t, 100, tableCount(t, dbPath, "raw_users"))
	assert.EqualValues(t, 500, tableCount(t, dbPath, "raw_events"))
	assert.EqualValues(t, 200, tableCount(t, dbPath, "raw_orders"))
}

func TestRunner_ScriptOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "users.star", `
columns = [["user_id", "BIGINT"], ["email", "VARCHAR"]]

def extract(ctx):
    return [{"user_id": i + 1, "email": "u%d@example.com" % i} for i in range(5)]
`)

	r, dbPath := testRunner(t, dir, fixedParams(100, 50, 20))
	results, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "users", results[0].Name)
	assert.EqualValues(t, 5, tableCount(t, dbPath, "raw_users"),
		"project script replaces the built-in generator")
	assert.EqualValues(t, 50, tableCount(t, dbPath, "raw_events"))
}

func TestRunner_ExtraScriptsAppendSorted(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "zz_refunds.star", `
columns = [["id", "BIGINT"]]

def extract(ctx):
    return [{"id": 1}]
`)
	writeScript(t, dir, "aa_plans.star", `
columns = [["id", "BIGINT"]]

def extract(ctx):
    return [{"id": 1}, {"id": 2}]
`)

	r, dbPath := testRunner(t, dir, fixedParams(10, 10, 10))

	names, err := r.StepNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "events", "orders", "aa_plans", "zz_refunds"}, names)

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.EqualValues(t, 2, tableCount(t, dbPath, "raw_aa_plans"))
	assert.EqualValues(t, 1, tableCount(t, dbPath, "raw_zz_refunds"))
}

func TestRunner_FailureSkipsRemaining(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "events.star", `
def extract(ctx):
    fail("generator exploded")
`)

	r, dbPath := testRunner(t, dir, fixedParams(30, 30, 30))
	results, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events")

	require.Len(t, results, 3)
	assert.True(t, results[0].Success())
	assert.Equal(t, 1, results[1].ExitCode)
	assert.Contains(t, results[1].Stderr, "generator exploded")
	assert.True(t, results[2].Skipped)
	assert.Contains(t, results[2].Stderr, "skipped")

	assert.EqualValues(t, 30, tableCount(t, dbPath, "raw_users"),
		"steps before the failure keep their data")
}

func TestRunner_EmitsProgressEvents(t *testing.T) {
	var events []Event
	dbPath := filepath.Join(t.TempDir(), "test.duckdb")
	r := NewRunner(Config{
		DatabasePath: dbPath,
		Params:       fixedParams(10, 10, 10),
		OnEvent:      func(ev Event) { events = append(events, ev) },
	})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 6, "start and finish per step")
	assert.Equal(t, EventStepStarted, events[0].Kind)
	assert.Equal(t, "users", events[0].Step)
	assert.Equal(t, EventStepFinished, events[1].Kind)
	require.NotNil(t, events[1].Result)
	assert.True(t, events[1].Result.Success())
	assert.Equal(t, 3, events[0].Total)
}

func TestRunner_StepNamesWithoutPipelinesDir(t *testing.T) {
	r, _ := testRunner(t, filepath.Join(t.TempDir(), "missing"), DefaultParams())

	names, err := r.StepNames()
	require.NoError(t, err)
	assert.Equal(t, CoreSteps, names)
}

func TestRunner_Summary(t *testing.T) {
	r, _ := testRunner(t, "", fixedParams(10, 20, 5))
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	stats, err := r.Summary(context.Background())
	require.NoError(t, err)

	byName := map[string]int64{}
	for _, s := range stats {
		byName[s.Name] = s.RowCount
	}
	assert.EqualValues(t, 10, byName["raw_users"])
	assert.EqualValues(t, 20, byName["raw_events"])
	assert.EqualValues(t, 5, byName["raw_orders"])
}
