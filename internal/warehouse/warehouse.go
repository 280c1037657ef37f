// Package warehouse provides access to the project's embedded DuckDB database.
package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcboeker/go-duckdb"
)

// Column describes one column of a raw table.
type Column struct {
	Name string
	Type string // DuckDB type: BIGINT, DOUBLE, VARCHAR, BOOLEAN, TIMESTAMP, DATE
}

// Batch is a full table load: schema plus rows in column order.
// Row values must match the declared column types; nil marks NULL.
type Batch struct {
	Table   string
	Columns []Column
	Rows    [][]any
}

// TableStat is a table name with its row count.
type TableStat struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// DB wraps a DuckDB database file.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the DuckDB database at path.
// The parent directory is created first; use ":memory:" for an in-memory
// database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// New wraps an existing database handle. Used by tests that substitute a
// mock driver.
func New(db *sql.DB, path string) *DB {
	return &DB{db: db, path: path}
}

// Path returns the database file path.
func (w *DB) Path() string { return w.path }

// Close closes the database.
func (w *DB) Close() error {
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// Exec executes a statement that returns no rows.
func (w *DB) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if w.db == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := w.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// CreateTable drops and recreates the batch's table with its declared schema.
func (w *DB) CreateTable(ctx context.Context, b *Batch) error {
	if b.Table == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(b.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", b.Table)
	}

	if err := w.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(b.Table)); err != nil {
		return fmt.Errorf("drop table %s: %w", b.Table, err)
	}

	defs := make([]string, len(b.Columns))
	for i, col := range b.Columns {
		defs[i] = quoteIdent(col.Name) + " " + col.Type
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(b.Table), strings.Join(defs, ", "))
	if err := w.Exec(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", b.Table, err)
	}
	return nil
}

// Load creates the batch's table and inserts all rows through the appender.
// A close failure surfaces joined with any load error since the appender
// flushes on close.
func (w *DB) Load(ctx context.Context, b *Batch) (count int64, err error) {
	if err := w.CreateTable(ctx, b); err != nil {
		return 0, err
	}
	if len(b.Rows) == 0 {
		return 0, nil
	}

	conn, err := w.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { err = errors.Join(err, conn.Close()) }()

	var appender *duckdb.Appender
	err = conn.Raw(func(dc any) error {
		driverConn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("failed to assert driver.Conn")
		}
		appender, err = duckdb.NewAppenderFromConn(driverConn, "main", b.Table)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create appender for %s: %w", b.Table, err)
	}
	defer func() {
		if cerr := appender.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close appender for %s: %w", b.Table, cerr))
		}
	}()

	for i, row := range b.Rows {
		values := make([]driver.Value, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := appender.AppendRow(values...); err != nil {
			return count, fmt.Errorf("append row %d into %s: %w", i, b.Table, err)
		}
		count++
	}

	if err := appender.Flush(); err != nil {
		return count, fmt.Errorf("failed to flush appender for %s: %w", b.Table, err)
	}
	return count, nil
}

// TableCount returns the row count of a single table.
func (w *DB) TableCount(ctx context.Context, table string) (int64, error) {
	if w.db == nil {
		return 0, fmt.Errorf("database connection not established")
	}
	var count int64
	query := "SELECT COUNT(*) FROM " + quoteIdent(table)
	if err := w.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// TableStats lists the tables in the main schema with their row counts.
func (w *DB) TableStats(ctx context.Context) ([]TableStat, error) {
	if w.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	rows, err := w.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'main'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	stats := make([]TableStat, 0, len(names))
	for _, name := range names {
		count, err := w.TableCount(ctx, name)
		if err != nil {
			return nil, err
		}
		stats = append(stats, TableStat{Name: name, RowCount: count})
	}
	return stats, nil
}

// quoteIdent quotes a SQL identifier, escaping embedded double quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
