package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteDriver implements the Driver interface for SQLite.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite driver.
func NewSQLite() *SQLiteDriver {
	return &SQLiteDriver{}
}

// Open opens a SQLite database at the given path.
func (d *SQLiteDriver) Open(dsn string) error {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database exists per connection; cap the pool at one so
	// every statement sees the same database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign keys, WAL mode, and busy timeout for concurrent access
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set pragmas: %w", err)
	}

	d.db = db
	return nil
}

// Close closes the database connection.
func (d *SQLiteDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a query without returning rows.
func (d *SQLiteDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (d *SQLiteDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *SQLiteDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// Dialect returns the SQLite dialect.
func (d *SQLiteDriver) Dialect() Dialect {
	return DialectSQLite
}

// Placeholder returns the SQLite placeholder syntax.
func (d *SQLiteDriver) Placeholder(index int) string {
	return "?"
}

// DB returns the underlying sql.DB.
func (d *SQLiteDriver) DB() *sql.DB {
	return d.db
}
