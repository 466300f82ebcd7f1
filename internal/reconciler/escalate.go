package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/db"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/merge"
)

// escalate hands conflicts the reconciler could not resolve to an AI
// agent as a follow-up (or initial) action on the workspace's session.
func (s *Service) escalate(ctx context.Context, pr *merge.PRMerge, workspace *db.Workspace, targetBranch string, conflictedFiles []string) error {
	if last, ok := s.lastEscalated[pr.ID]; ok && time.Since(last) < s.reescalationInterval {
		s.logger.Info("skipping escalation, recently escalated",
			"pr", pr.PR.Number, "last", last)
		return nil
	}

	// Copy the template out under the read lease; the lock is released
	// before any host/git/gateway call.
	template := s.cfgStore.ConflictPrompt()

	prompt := strings.ReplaceAll(template, "{target_branch}", targetBranch)
	prompt = strings.ReplaceAll(prompt, "{conflicted_files}", strings.Join(conflictedFiles, ", "))

	session, err := s.store.LatestSessionByWorkspace(ctx, workspace.ID)
	if err != nil {
		return err
	}
	if session == nil {
		session, err = s.store.CreateSession(ctx, workspace.ID)
		if err != nil {
			return err
		}
	}

	profile, err := s.store.LatestExecutorProfileForSession(ctx, session.ID)
	if err != nil {
		return err
	}
	if profile == "" {
		s.logger.Warn("no executor profile for session, skipping conflict escalation",
			"session", session.ID)
		return nil
	}

	agentSessionID, err := s.store.LatestAgentSessionID(ctx, session.ID)
	if err != nil {
		return err
	}

	workingDir := workspace.AgentWorkingDir

	var action executor.Action
	if agentSessionID != "" {
		action = executor.NewFollowUpAction(prompt, profile, workingDir, agentSessionID)
	} else {
		action = executor.NewInitialAction(prompt, profile, workingDir)
	}

	if err := s.gateway.StartExecution(ctx, workspace, session, action, db.RunReasonCodingAgent); err != nil {
		return fmt.Errorf("start conflict resolution execution: %w", err)
	}

	s.lastEscalated[pr.ID] = time.Now()

	s.publish(events.NewEvent(events.EventConflictEscalated, workspace.TaskID, map[string]any{
		"pr_number":        pr.PR.Number,
		"conflicted_files": conflictedFiles,
	}))

	s.logger.Info("triggered agent conflict resolution",
		"workspace", workspace.ID, "session", session.ID, "files", len(conflictedFiles))

	return nil
}
