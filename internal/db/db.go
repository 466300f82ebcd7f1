// Package db provides SQLite/PostgreSQL persistence for loom.
//
// The project database holds tasks, workspaces, repos, merge records, and
// agent session history. SQLite is the default; PostgreSQL is available for
// shared deployments by setting database.dsn in the config file.
package db

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/db/driver"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DB wraps a database connection behind the dialect driver.
type DB struct {
	drv  driver.Driver
	path string
}

// Open opens (and migrates) a SQLite database at the given path.
// Creates the parent directory if it doesn't exist.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	drv := driver.NewSQLite()
	if err := drv.Open(path); err != nil {
		return nil, err
	}

	d := &DB{drv: drv, path: path}
	if err := d.Migrate(); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

// OpenInMemory opens a fresh in-memory SQLite database. Used by tests.
func OpenInMemory() (*DB, error) {
	drv := driver.NewSQLite()
	if err := drv.Open(":memory:"); err != nil {
		return nil, err
	}
	d := &DB{drv: drv, path: ":memory:"}
	if err := d.Migrate(); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

// OpenPostgres opens (and migrates) a PostgreSQL database from a DSN.
func OpenPostgres(dsn string) (*DB, error) {
	drv := driver.NewPostgres()
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	d := &DB{drv: drv, path: dsn}
	if err := d.Migrate(); err != nil {
		_ = drv.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.drv.Close()
}

// Path returns the database file path or DSN.
func (d *DB) Path() string {
	return d.path
}

// Migrate applies embedded schema migrations in filename order. Applied
// versions are tracked in the _migrations table.
func (d *DB) Migrate() error {
	ctx := context.Background()

	if _, err := d.drv.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1

		var count int
		row := d.drv.QueryRow(ctx, d.rebind("SELECT COUNT(*) FROM _migrations WHERE version = ?"), version)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		sqlBytes, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read schema %s: %w", name, err)
		}
		if _, err := d.drv.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := d.drv.Exec(ctx,
			d.rebind("INSERT INTO _migrations (version, applied_at) VALUES (?, ?)"),
			version, nowString()); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// rebind converts ?-style placeholders to the driver's syntax.
// Queries are written with ? throughout; Postgres needs $1, $2, ...
func (d *DB) rebind(query string) string {
	if d.drv.Dialect() != driver.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.drv.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) error {
	_, err := d.drv.Exec(ctx, d.rebind(query), args...)
	return err
}
