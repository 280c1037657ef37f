package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbdk-dev/sbdk/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".sbdk", "state.db"), testutil.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_OpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "state.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Positive(t, version)
}

func TestStore_RunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, KindPipelines, TriggerManual)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	require.NoError(t, s.RecordStep(ctx, StepRecord{
		RunID: run.ID, Name: "users", Duration: 0.42,
	}))
	require.NoError(t, s.RecordStep(ctx, StepRecord{
		RunID: run.ID, Name: "events", ExitCode: 1, Duration: 0.1,
	}))
	require.NoError(t, s.RecordStep(ctx, StepRecord{
		RunID: run.ID, Name: "orders", Skipped: true,
	}))

	require.NoError(t, s.CompleteRun(ctx, run.ID, RunStatusFailed, "events failed"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "events failed", got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.CompletedAt, 5*time.Second)

	steps, err := s.RunSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "users", steps[0].Name)
	assert.Equal(t, 1, steps[1].ExitCode)
	assert.True(t, steps[2].Skipped)
}

func TestStore_CompleteUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.CompleteRun(context.Background(), "no-such-id", RunStatusSuccess, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStore_RecentRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.CreateRun(ctx, KindAll, TriggerWatch)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestStore_Stats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.CreateRun(ctx, KindPipelines, TriggerManual)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, ok.ID, RunStatusSuccess, ""))

	bad, err := s.CreateRun(ctx, KindTransform, TriggerWebhook)
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, bad.ID, RunStatusFailed, "boom"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalRuns)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Failed)
	require.NotNil(t, stats.LastRunAt)
}

func TestStore_StatsEmpty(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRuns)
	assert.Nil(t, stats.LastRunAt)
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	run, err := s.CreateRun(context.Background(), KindAll, TriggerManual)
	require.NoError(t, err)
	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
}
