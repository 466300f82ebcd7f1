package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/db"
)

func TestWorkspaceDir(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, "/var/loom/workspaces")

	ws := &db.Workspace{ID: "ws-1"}
	assert.Equal(t, filepath.Join("/var/loom/workspaces", "ws-1"), m.WorkspaceDir(ws))

	ws.RootDir = "/srv/checkouts/ws-1"
	assert.Equal(t, "/srv/checkouts/ws-1", m.WorkspaceDir(ws))
}

func TestHasRunningProcessesFallsBackToDB(t *testing.T) {
	t.Parallel()
	database := db.NewTestDB(t)
	ctx := context.Background()

	task := &db.Task{ProjectID: "proj-1", Status: db.TaskInReview}
	require.NoError(t, database.CreateTask(ctx, task))
	ws := &db.Workspace{TaskID: task.ID, Branch: "loom/x"}
	require.NoError(t, database.CreateWorkspace(ctx, ws))
	session, err := database.CreateSession(ctx, ws.ID)
	require.NoError(t, err)

	m := NewManager(database, t.TempDir())

	running, err := m.HasRunningProcesses(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, running)

	// A process recorded by a previous daemon run still counts.
	proc := &db.ExecutionProcess{SessionID: session.ID, RunReason: db.RunReasonCodingAgent}
	require.NoError(t, database.CreateExecutionProcess(ctx, proc))

	running, err = m.HasRunningProcesses(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestActionConstructors(t *testing.T) {
	t.Parallel()

	initial := NewInitialAction("fix it", "claude-sonnet", "/work")
	assert.Equal(t, ActionInitial, initial.Kind)
	assert.Empty(t, initial.AgentSessionID)

	followUp := NewFollowUpAction("fix it", "claude-sonnet", "/work", "agent-1")
	assert.Equal(t, ActionFollowUp, followUp.Kind)
	assert.Equal(t, "agent-1", followUp.AgentSessionID)
}
