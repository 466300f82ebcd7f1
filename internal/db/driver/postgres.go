package driver

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresDriver implements the Driver interface for PostgreSQL.
type PostgresDriver struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL driver.
func NewPostgres() *PostgresDriver {
	return &PostgresDriver{}
}

// Open opens a PostgreSQL database connection.
func (d *PostgresDriver) Open(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	// Short transactions only; a modest pool is plenty.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	d.db = db
	return nil
}

// Close closes the database connection.
func (d *PostgresDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Exec executes a query without returning rows.
func (d *PostgresDriver) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (d *PostgresDriver) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (d *PostgresDriver) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// Dialect returns the Postgres dialect.
func (d *PostgresDriver) Dialect() Dialect {
	return DialectPostgres
}

// Placeholder returns the Postgres placeholder syntax.
func (d *PostgresDriver) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// DB returns the underlying sql.DB.
func (d *PostgresDriver) DB() *sql.DB {
	return d.db
}
