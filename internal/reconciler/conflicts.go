package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomworks/loom/internal/db"
	"github.com/loomworks/loom/internal/git"
	"github.com/loomworks/loom/internal/merge"
)

// resolutionKind is the outcome of a conflict auto-resolution attempt.
type resolutionKind int

const (
	// resolutionNone means the branch was not behind, nothing to do.
	resolutionNone resolutionKind = iota
	// resolutionResolved means the rebase and push succeeded.
	resolutionResolved
	// resolutionFailed means the drift could not be resolved mechanically.
	resolutionFailed
)

type resolution struct {
	kind            resolutionKind
	conflictedFiles []string
	message         string
}

// driftAndConflict checks whether an open PR's branch has fallen behind
// its target and, if so, tries to rebase it — escalating to an agent when
// the rebase conflicts. Only tasks in review with no agent already running
// are touched.
func (s *Service) driftAndConflict(ctx context.Context, pr *merge.PRMerge) error {
	workspace, err := s.store.FindWorkspace(ctx, pr.WorkspaceID)
	if err != nil {
		return err
	}
	if workspace == nil {
		s.logger.Debug("workspace not found for pr", "workspace", pr.WorkspaceID, "pr", pr.PR.Number)
		return nil
	}
	if workspace.Archived {
		s.logger.Debug("skipping conflict check for archived workspace", "workspace", workspace.ID)
		return nil
	}

	task, err := s.store.FindTask(ctx, workspace.TaskID)
	if err != nil {
		return err
	}
	if task == nil {
		s.logger.Debug("task not found for workspace", "task", workspace.TaskID, "workspace", workspace.ID)
		return nil
	}
	// Only PRs awaiting review are auto-maintained; in-progress work may
	// have intentional local state.
	if task.Status != db.TaskInReview {
		s.logger.Debug("skipping conflict check", "task", task.ID, "status", string(task.Status))
		return nil
	}

	// One execution per task at a time: never rebase under a running
	// agent, and never trigger a second resolution attempt.
	running, err := s.gateway.HasRunningProcesses(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("check running processes: %w", err)
	}
	if running {
		s.logger.Debug("skipping conflict check, execution in progress", "task", task.ID)
		return nil
	}

	repo, err := s.store.FindRepo(ctx, pr.RepoID)
	if err != nil {
		return err
	}
	if repo == nil {
		s.logger.Warn("repo not found for pr", "repo", pr.RepoID, "pr", pr.PR.Number)
		return nil
	}

	worktree := filepath.Join(s.gateway.WorkspaceDir(workspace), repo.Name)
	if _, err := os.Stat(worktree); err != nil {
		s.logger.Debug("worktree does not exist", "path", worktree, "workspace", workspace.ID)
		return nil
	}

	target := pr.TargetBranch
	_, behind, err := s.git.BranchStatus(ctx, worktree, workspace.Branch, target)
	if err != nil {
		s.logger.Debug("failed to check branch status", "workspace", workspace.ID, "error", err)
		return nil
	}
	if behind == 0 {
		s.logger.Debug("branch up to date with target",
			"branch", workspace.Branch, "target", target, "workspace", workspace.ID)
		return nil
	}

	s.logger.Info("branch behind target, attempting auto-resolution",
		"branch", workspace.Branch, "behind", behind, "target", target, "pr", pr.PR.Number)

	res := s.tryAutoResolve(ctx, workspace, repo, worktree, target)

	switch res.kind {
	case resolutionNone, resolutionResolved:
		s.logger.Info("auto-resolved drift", "pr", pr.PR.Number, "workspace", workspace.ID)
	case resolutionFailed:
		s.logger.Warn("auto-resolution failed, considering agent escalation",
			"pr", pr.PR.Number, "message", res.message)
		if len(res.conflictedFiles) > 0 {
			if err := s.escalate(ctx, pr, workspace, target, res.conflictedFiles); err != nil {
				s.logger.Error("failed to trigger conflict resolution",
					"pr", pr.PR.Number, "error", err)
			}
		}
	}

	return nil
}

// tryAutoResolve rebases the workspace branch onto the target and force
// pushes it. The worktree is always left clean: a conflicted or failed
// rebase is aborted before returning.
func (s *Service) tryAutoResolve(ctx context.Context, workspace *db.Workspace, repo *db.Repo, worktree, target string) resolution {
	_, behind, err := s.git.BranchStatus(ctx, worktree, workspace.Branch, target)
	if err != nil {
		s.logger.Warn("failed to check branch status for conflict detection", "error", err)
		return resolution{kind: resolutionNone}
	}
	if behind == 0 {
		return resolution{kind: resolutionNone}
	}

	// The fork-point base makes the rebase three-way. When it cannot be
	// determined, the target serves as both old and new base.
	base, err := s.git.BaseCommit(ctx, worktree, workspace.Branch, target)
	if err != nil {
		s.logger.Warn("failed to get base commit for rebase", "error", err)
		base = target
	}

	newHead, err := s.git.Rebase(ctx, repo.Path, worktree, target, base, workspace.Branch)
	if err == nil {
		s.logger.Info("rebased branch onto target",
			"branch", workspace.Branch, "target", target, "head", newHead)

		if pushErr := s.git.Push(ctx, worktree, workspace.Branch, true); pushErr != nil {
			s.logger.Error("failed to push rebased branch", "branch", workspace.Branch, "error", pushErr)
			return resolution{
				kind: resolutionFailed,
				message: fmt.Sprintf(
					"Rebase succeeded but failed to push: %v. You may need to force push manually.", pushErr),
			}
		}
		return resolution{kind: resolutionResolved}
	}

	if errors.Is(err, git.ErrMergeConflicts) {
		conflicted, listErr := s.git.ConflictedFiles(ctx, worktree)
		if listErr != nil {
			s.logger.Warn("failed to list conflicted files", "error", listErr)
			conflicted = nil
		}
		s.logger.Warn("rebase stopped on conflicts",
			"branch", workspace.Branch, "files", len(conflicted))

		if abortErr := s.git.AbortConflicts(ctx, worktree); abortErr != nil {
			s.logger.Error("failed to abort rebase after conflict", "error", abortErr)
		}
		return resolution{
			kind:            resolutionFailed,
			conflictedFiles: conflicted,
			message:         err.Error(),
		}
	}

	s.logger.Error("rebase failed", "branch", workspace.Branch, "error", err)
	_ = s.git.AbortConflicts(ctx, worktree)
	return resolution{
		kind:    resolutionFailed,
		message: fmt.Sprintf("Failed to rebase: %v", err),
	}
}
