// Package state records run history in a per-project SQLite database
// under .sbdk/.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Run kinds.
const (
	KindPipelines = "pipelines"
	KindTransform = "transform"
	KindAll       = "all"
)

// Run triggers.
const (
	TriggerManual  = "manual"
	TriggerWatch   = "watch"
	TriggerWebhook = "webhook"
)

// RunRecord is one recorded pipeline or transform run.
type RunRecord struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Trigger     string     `json:"trigger"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StepRecord is one step within a run.
type StepRecord struct {
	RunID    string  `json:"run_id"`
	Name     string  `json:"name"`
	ExitCode int     `json:"exit_code"`
	Duration float64 `json:"duration"`
	Skipped  bool    `json:"skipped,omitempty"`
}

// timeFormat is fixed-width RFC3339 so stored strings sort
// chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Stats summarizes run history for diagnostics.
type Stats struct {
	TotalRuns int64      `json:"total_runs"`
	Succeeded int64      `json:"succeeded"`
	Failed    int64      `json:"failed"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// Store persists run history. Safe for use from one process; the
// database lives next to the project it describes.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the state database at path and runs
// pending migrations. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)",
			path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// One connection: sqlite is single-writer, and pooled connections
	// would each see their own ":memory:" database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// CreateRun inserts a new running record and returns it.
func (s *Store) CreateRun(ctx context.Context, kind, trigger string) (*RunRecord, error) {
	run := &RunRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run record",
		"id", run.ID, "kind", kind, "trigger", trigger)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, triggered_by, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Trigger, string(run.Status),
		run.StartedAt.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run finished with the given status.
func (s *Store) CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error {
	now := time.Now().UTC().Format(timeFormat)
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), now, nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// RecordStep appends a step result to a run.
func (s *Store) RecordStep(ctx context.Context, step StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (run_id, name, exit_code, duration, skipped)
		VALUES (?, ?, ?, ?, ?)`,
		step.RunID, step.Name, step.ExitCode, step.Duration, boolInt(step.Skipped))
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// GetRun retrieves one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, triggered_by, status, started_at, completed_at, error
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, err
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, triggered_by, status, started_at, completed_at, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSteps returns the recorded steps for a run in insertion order.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, name, exit_code, duration, skipped
		FROM run_steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		var skipped int
		if err := rows.Scan(&step.RunID, &step.Name, &step.ExitCode,
			&step.Duration, &skipped); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Skipped = skipped != 0
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Stats aggregates run history.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       MAX(started_at)
		FROM runs`).Scan(&stats.TotalRuns, &stats.Succeeded, &stats.Failed, &last)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	if last.Valid {
		t, err := time.Parse(time.RFC3339Nano, last.String)
		if err == nil {
			stats.LastRunAt = &t
		}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var status, startedAt string
	var completedAt, errMsg sql.NullString

	if err := row.Scan(&run.ID, &run.Kind, &run.Trigger, &status,
		&startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	run.StartedAt = t

	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
