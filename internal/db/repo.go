package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repo is a repository registered with the platform. Worktrees for a
// workspace live at <workspace root dir>/<repo name>.
type Repo struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
}

// CreateRepo inserts a repo row.
func (d *DB) CreateRepo(ctx context.Context, r *Repo) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := d.exec(ctx, `
		INSERT INTO repos (id, name, path, created_at)
		VALUES (?, ?, ?, ?)`,
		r.ID, r.Name, r.Path, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert repo: %w", err)
	}
	return nil
}

// FindRepo returns the repo with the given id, or nil if absent.
func (d *DB) FindRepo(ctx context.Context, id string) (*Repo, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT id, name, path, created_at FROM repos WHERE id = ?`), id)

	var r Repo
	var createdAt string
	err := row.Scan(&r.ID, &r.Name, &r.Path, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan repo: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}
