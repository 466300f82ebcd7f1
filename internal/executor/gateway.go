// Package executor starts and tracks agent execution processes for
// workspaces. Starting an execution is asynchronous: the gateway returns
// once the process is enqueued, not when the agent finishes.
package executor

import (
	"context"

	"github.com/loomworks/loom/internal/db"
)

// Gateway is the narrow surface the reconciler needs to hand work to
// agents without owning their lifecycle.
type Gateway interface {
	// HasRunningProcesses reports whether an agent execution is already
	// active for the task.
	HasRunningProcesses(ctx context.Context, taskID string) (bool, error)

	// WorkspaceDir returns the on-disk root of a workspace, under which
	// repo worktrees are materialized.
	WorkspaceDir(workspace *db.Workspace) string

	// StartExecution enqueues an agent invocation for the workspace's
	// session and records it as an execution process.
	StartExecution(ctx context.Context, workspace *db.Workspace, session *db.Session, action Action, reason db.RunReason) error
}
