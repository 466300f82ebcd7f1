package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/loomworks/loom/internal/db"
)

// Manager is the production Gateway. It keeps an in-memory registry of
// running executions keyed by task and spawns the agent CLI in its own
// process group so a stop can take the whole tree down.
type Manager struct {
	db            *db.DB
	workspacesDir string
	agentCommand  string
	logger        *slog.Logger

	mu      sync.Mutex
	running map[string]*running // task id -> active execution
}

type running struct {
	processID string
	cmd       *exec.Cmd
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAgentCommand sets the agent CLI binary (default "claude").
func WithAgentCommand(command string) ManagerOption {
	return func(m *Manager) { m.agentCommand = command }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an execution manager. workspacesDir is the directory
// under which workspace checkouts live.
func NewManager(database *db.DB, workspacesDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:            database,
		workspacesDir: workspacesDir,
		agentCommand:  "claude",
		logger:        slog.Default(),
		running:       make(map[string]*running),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure Manager implements Gateway.
var _ Gateway = (*Manager)(nil)

// HasRunningProcesses reports whether an execution is active for the task,
// consulting the in-memory registry first and the database second so
// executions recorded by a previous run of the daemon still count.
func (m *Manager) HasRunningProcesses(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	_, active := m.running[taskID]
	m.mu.Unlock()
	if active {
		return true, nil
	}
	return m.db.HasRunningProcessesForTask(ctx, taskID)
}

// WorkspaceDir returns the workspace's on-disk root.
func (m *Manager) WorkspaceDir(workspace *db.Workspace) string {
	if workspace.RootDir != "" {
		return workspace.RootDir
	}
	return filepath.Join(m.workspacesDir, workspace.ID)
}

// StartExecution records an execution process and spawns the agent CLI.
// The spawned process is detached into its own process group; a goroutine
// reaps it and finalizes the process row.
func (m *Manager) StartExecution(ctx context.Context, workspace *db.Workspace, session *db.Session, action Action, reason db.RunReason) error {
	proc := &db.ExecutionProcess{
		SessionID:       session.ID,
		RunReason:       reason,
		ExecutorProfile: action.ExecutorProfile,
		AgentSessionID:  action.AgentSessionID,
	}
	if err := m.db.CreateExecutionProcess(ctx, proc); err != nil {
		return fmt.Errorf("record execution process: %w", err)
	}

	args := []string{"-p", action.Prompt, "--output-format", "json"}
	if action.Kind == ActionFollowUp && action.AgentSessionID != "" {
		args = append(args, "--resume", action.AgentSessionID)
	}

	cmd := exec.Command(m.agentCommand, args...)
	if action.WorkingDir != "" {
		cmd.Dir = action.WorkingDir
	} else {
		cmd.Dir = m.WorkspaceDir(workspace)
	}
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = m.db.FinishExecutionProcess(context.Background(), proc.ID, db.ProcessFailed)
		return fmt.Errorf("start agent process: %w", err)
	}

	m.mu.Lock()
	m.running[workspace.TaskID] = &running{processID: proc.ID, cmd: cmd}
	m.mu.Unlock()

	m.logger.Info("started agent execution",
		"task", workspace.TaskID,
		"workspace", workspace.ID,
		"session", session.ID,
		"kind", string(action.Kind),
		"pid", cmd.Process.Pid)

	go m.reap(workspace.TaskID, proc.ID, cmd)

	return nil
}

// Stop kills the running execution for a task, if any.
func (m *Manager) Stop(taskID string) error {
	m.mu.Lock()
	r, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return killProcessGroup(r.cmd.Process.Pid)
}

func (m *Manager) reap(taskID, processID string, cmd *exec.Cmd) {
	err := cmd.Wait()

	m.mu.Lock()
	if r, ok := m.running[taskID]; ok && r.processID == processID {
		delete(m.running, taskID)
	}
	m.mu.Unlock()

	status := db.ProcessCompleted
	if err != nil {
		status = db.ProcessFailed
		m.logger.Warn("agent execution exited with error", "task", taskID, "error", err)
	}
	if dbErr := m.db.FinishExecutionProcess(context.Background(), processID, status); dbErr != nil {
		m.logger.Warn("failed to finalize execution process", "process", processID, "error", dbErr)
	}
}
