package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is an ordered sequence of agent invocations bound to a workspace.
type Session struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time
}

// CreateSession inserts a session row for a workspace.
func (d *DB) CreateSession(ctx context.Context, workspaceID string) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		CreatedAt:   time.Now().UTC(),
	}
	err := d.exec(ctx, `
		INSERT INTO sessions (id, workspace_id, created_at) VALUES (?, ?, ?)`,
		s.ID, s.WorkspaceID, formatTime(s.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// LatestSessionByWorkspace returns the most recent session for a workspace,
// or nil if the workspace has none.
func (d *DB) LatestSessionByWorkspace(ctx context.Context, workspaceID string) (*Session, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT id, workspace_id, created_at
		FROM sessions
		WHERE workspace_id = ?
		ORDER BY created_at DESC
		LIMIT 1`), workspaceID)

	var s Session
	var createdAt string
	err := row.Scan(&s.ID, &s.WorkspaceID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}
