package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "inprogress"
	TaskInReview   TaskStatus = "inreview"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is the unit of work a workspace serves. The core reads id, project,
// and status, and may transition status to done when a PR merges.
type Task struct {
	ID        string
	ProjectID string
	Title     string
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateTask inserts a task row.
func (d *DB) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskTodo
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	err := d.exec(ctx, `
		INSERT INTO tasks (id, project_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, string(t.Status), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// FindTask returns the task with the given id, or nil if absent.
func (d *DB) FindTask(ctx context.Context, id string) (*Task, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT id, project_id, title, status, created_at, updated_at
		FROM tasks WHERE id = ?`), id)

	var t Task
	var status, createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// UpdateTaskStatus transitions a task's status.
func (d *DB) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	err := d.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nowString(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}
