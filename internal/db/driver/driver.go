// Package driver provides database driver abstraction for SQLite and PostgreSQL.
package driver

import (
	"context"
	"database/sql"
)

// Dialect represents the database dialect.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Driver abstracts database connections for SQLite and PostgreSQL.
type Driver interface {
	Open(dsn string) error
	Close() error

	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	Dialect() Dialect
	Placeholder(index int) string // $1 for Postgres, ? for SQLite

	// Raw access (for advanced operations)
	DB() *sql.DB
}

// New returns a driver for the given dialect.
func New(dialect Dialect) Driver {
	if dialect == DialectPostgres {
		return NewPostgres()
	}
	return NewSQLite()
}
