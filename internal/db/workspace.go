package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workspace is an isolated checkout in which an agent works on a task.
// The reconciliation core reads these fields and mutates only the archived
// flag.
type Workspace struct {
	ID              string
	TaskID          string
	Branch          string
	Archived        bool
	Pinned          bool
	AgentWorkingDir string
	RootDir         string
	CreatedAt       time.Time
}

// CreateWorkspace inserts a workspace row.
func (d *DB) CreateWorkspace(ctx context.Context, w *Workspace) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	var workingDir *string
	if w.AgentWorkingDir != "" {
		workingDir = &w.AgentWorkingDir
	}
	err := d.exec(ctx, `
		INSERT INTO workspaces (id, task_id, branch, archived, pinned, agent_working_dir, root_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TaskID, w.Branch, boolToInt(w.Archived), boolToInt(w.Pinned),
		workingDir, w.RootDir, formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// FindWorkspace returns the workspace with the given id, or nil if absent.
func (d *DB) FindWorkspace(ctx context.Context, id string) (*Workspace, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT id, task_id, branch, archived, pinned, agent_working_dir, root_dir, created_at
		FROM workspaces WHERE id = ?`), id)

	var w Workspace
	var archived, pinned int
	var workingDir sql.NullString
	var createdAt string
	err := row.Scan(&w.ID, &w.TaskID, &w.Branch, &archived, &pinned, &workingDir, &w.RootDir, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	w.Archived = archived != 0
	w.Pinned = pinned != 0
	w.AgentWorkingDir = workingDir.String
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

// SetWorkspaceArchived sets the archived flag on a workspace.
func (d *DB) SetWorkspaceArchived(ctx context.Context, id string, archived bool) error {
	if err := d.exec(ctx, `UPDATE workspaces SET archived = ? WHERE id = ?`, boolToInt(archived), id); err != nil {
		return fmt.Errorf("set workspace archived: %w", err)
	}
	return nil
}
