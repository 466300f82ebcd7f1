package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunReason records why an execution process was started.
type RunReason string

const (
	RunReasonCodingAgent RunReason = "codingagent"
	RunReasonSetup       RunReason = "setup"
)

// ProcessStatus is the lifecycle state of an execution process.
type ProcessStatus string

const (
	ProcessRunning   ProcessStatus = "running"
	ProcessCompleted ProcessStatus = "completed"
	ProcessFailed    ProcessStatus = "failed"
	ProcessKilled    ProcessStatus = "killed"
)

// ExecutionProcess is one agent invocation within a session.
type ExecutionProcess struct {
	ID              string
	SessionID       string
	RunReason       RunReason
	ExecutorProfile string
	AgentSessionID  string
	Status          ProcessStatus
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// CreateExecutionProcess inserts an execution process row in status running.
func (d *DB) CreateExecutionProcess(ctx context.Context, p *ExecutionProcess) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = ProcessRunning
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var agentSession *string
	if p.AgentSessionID != "" {
		agentSession = &p.AgentSessionID
	}
	err := d.exec(ctx, `
		INSERT INTO execution_processes (id, session_id, run_reason, executor_profile, agent_session_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, string(p.RunReason), p.ExecutorProfile, agentSession,
		string(p.Status), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert execution process: %w", err)
	}
	return nil
}

// FinishExecutionProcess marks a process as completed/failed/killed.
func (d *DB) FinishExecutionProcess(ctx context.Context, id string, status ProcessStatus) error {
	err := d.exec(ctx, `
		UPDATE execution_processes SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), nowString(), id)
	if err != nil {
		return fmt.Errorf("finish execution process: %w", err)
	}
	return nil
}

// LatestExecutorProfileForSession returns the executor profile of the most
// recent coding-agent process in a session, or "" if there is none.
func (d *DB) LatestExecutorProfileForSession(ctx context.Context, sessionID string) (string, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT executor_profile
		FROM execution_processes
		WHERE session_id = ? AND run_reason = ? AND executor_profile != ''
		ORDER BY created_at DESC
		LIMIT 1`), sessionID, string(RunReasonCodingAgent))

	var profile string
	err := row.Scan(&profile)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan executor profile: %w", err)
	}
	return profile, nil
}

// LatestAgentSessionID returns the agent session id of the most recent
// coding-agent process in a session, or "" if no process recorded one.
// A non-empty id lets a follow-up resume the agent's conversation.
func (d *DB) LatestAgentSessionID(ctx context.Context, sessionID string) (string, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT agent_session_id
		FROM execution_processes
		WHERE session_id = ? AND run_reason = ? AND agent_session_id IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`), sessionID, string(RunReasonCodingAgent))

	var agentSession sql.NullString
	err := row.Scan(&agentSession)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan agent session id: %w", err)
	}
	return agentSession.String, nil
}

// HasRunningProcessesForTask reports whether any execution process attached
// to the task's workspaces is still running.
func (d *DB) HasRunningProcessesForTask(ctx context.Context, taskID string) (bool, error) {
	row := d.drv.QueryRow(ctx, d.rebind(`
		SELECT COUNT(*)
		FROM execution_processes p
		INNER JOIN sessions s ON p.session_id = s.id
		INNER JOIN workspaces w ON s.workspace_id = w.id
		WHERE w.task_id = ? AND p.status = ?`), taskID, string(ProcessRunning))

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count running processes: %w", err)
	}
	return count > 0, nil
}
