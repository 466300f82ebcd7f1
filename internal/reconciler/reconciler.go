// Package reconciler keeps merge records in sync with the git host and
// keeps open pull requests mergeable.
//
// A single periodic loop loads every open PR record, fetches the remote
// state, propagates terminal transitions into task and workspace state,
// and — when a PR has fallen behind its target branch — rebases it,
// escalating to an AI agent when the rebase conflicts.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/db"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/executor"
	"github.com/loomworks/loom/internal/merge"
)

// Store is the persistence surface the reconciler needs. *db.DB
// implements it.
type Store interface {
	OpenPRs(ctx context.Context) ([]merge.PRMerge, error)
	UpdatePRStatus(ctx context.Context, mergeID string, status merge.Status, mergeCommitSHA string, ci merge.CIStatus) error
	UpdatePRCIStatus(ctx context.Context, mergeID string, ci merge.CIStatus) error

	FindWorkspace(ctx context.Context, id string) (*db.Workspace, error)
	SetWorkspaceArchived(ctx context.Context, id string, archived bool) error
	FindTask(ctx context.Context, id string) (*db.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status db.TaskStatus) error
	FindRepo(ctx context.Context, id string) (*db.Repo, error)

	LatestSessionByWorkspace(ctx context.Context, workspaceID string) (*db.Session, error)
	CreateSession(ctx context.Context, workspaceID string) (*db.Session, error)
	LatestExecutorProfileForSession(ctx context.Context, sessionID string) (string, error)
	LatestAgentSessionID(ctx context.Context, sessionID string) (string, error)
}

// Host queries the git host for PR state. *githost.Client implements it.
type Host interface {
	ViewPR(ctx context.Context, prURL string) (merge.PullRequestInfo, error)
	CIStatus(ctx context.Context, prURL string) (merge.CIStatus, error)
}

// GitDriver manipulates workspace worktrees. *git.Driver implements it.
type GitDriver interface {
	BranchStatus(ctx context.Context, worktree, branch, target string) (ahead, behind int, err error)
	BaseCommit(ctx context.Context, worktree, branch, target string) (string, error)
	Rebase(ctx context.Context, repoPath, worktree, newBase, oldBase, branch string) (string, error)
	Push(ctx context.Context, worktree, branch string, force bool) error
	ConflictedFiles(ctx context.Context, worktree string) ([]string, error)
	AbortConflicts(ctx context.Context, worktree string) error
}

// SharePublisher propagates task updates to shared views. Optional;
// failures are logged, never propagated.
type SharePublisher interface {
	UpdateSharedTask(ctx context.Context, taskID string) error
}

// StatusInvalidator drops cached status views after merge records change.
// *db.StatusCache implements it. Optional.
type StatusInvalidator interface {
	Invalidate()
}

// Config configures the reconciliation loop.
type Config struct {
	// Interval between ticks (default 60s).
	Interval time.Duration
	// ReescalationInterval is the minimum time between conflict
	// escalations for the same PR (default 30m).
	ReescalationInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Publisher receives best-effort analytics events. Optional.
	Publisher events.Publisher
	// Share propagates merged-task updates. Optional.
	Share SharePublisher
	// Cache is invalidated after merge-record writes so status readers
	// see fresh data. Optional.
	Cache StatusInvalidator
}

// Service is the PR reconciler.
type Service struct {
	store    Store
	host     Host
	git      GitDriver
	gateway  executor.Gateway
	cfgStore *config.Store

	interval             time.Duration
	reescalationInterval time.Duration
	logger               *slog.Logger
	publisher            events.Publisher
	share                SharePublisher
	cache                StatusInvalidator

	// lastEscalated tracks when each merge record last triggered an
	// agent, bounding escalation frequency. Touched only from the tick
	// goroutine and direct test calls.
	lastEscalated map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a reconciler service.
func New(store Store, host Host, gitDriver GitDriver, gateway executor.Gateway, cfgStore *config.Store, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ReescalationInterval <= 0 {
		cfg.ReescalationInterval = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfgStore == nil {
		cfgStore = config.NewStore(nil)
	}

	return &Service{
		store:                store,
		host:                 host,
		git:                  gitDriver,
		gateway:              gateway,
		cfgStore:             cfgStore,
		interval:             cfg.Interval,
		reescalationInterval: cfg.ReescalationInterval,
		logger:               cfg.Logger,
		publisher:            cfg.Publisher,
		share:                cfg.Share,
		cache:                cfg.Cache,
		lastEscalated:        make(map[string]time.Time),
		stopCh:               make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("starting pr reconciler", "interval", s.interval)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the reconciler.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial pass so a restart converges without waiting a full
	// interval.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass over all open PR records. Records are reconciled
// sequentially; one record's failure never stops the others.
func (s *Service) Tick(ctx context.Context) {
	openPRs, err := s.store.OpenPRs(ctx)
	if err != nil {
		s.logger.Error("failed to load open prs", "error", err)
		return
	}
	if len(openPRs) == 0 {
		s.logger.Debug("no open prs to check")
		return
	}

	s.logger.Info("checking open prs", "count", len(openPRs))

	for i := range openPRs {
		pr := &openPRs[i]
		if err := s.reconcile(ctx, pr); err != nil {
			s.logger.Error("failed to reconcile pr",
				"pr", pr.PR.Number,
				"workspace", pr.WorkspaceID,
				"error", err)
		}
	}
}

// reconcile brings one PR record up to date with the host and, for PRs
// still open, checks for branch drift.
func (s *Service) reconcile(ctx context.Context, pr *merge.PRMerge) error {
	remote, err := s.host.ViewPR(ctx, pr.PR.URL)
	if err != nil {
		return err
	}

	// CI is fetched only for open PRs. Hosts stop reporting checks once a
	// PR closes, so terminal transitions keep the last-observed CI status
	// instead of overwriting it with unknown.
	ci := pr.PR.CIStatus
	if remote.Status == merge.StatusOpen {
		fetched, err := s.host.CIStatus(ctx, pr.PR.URL)
		if err != nil {
			s.logger.Debug("failed to fetch ci status", "pr", pr.PR.Number, "error", err)
			fetched = merge.CIUnknown
		}
		ci = fetched
	}

	prChanged := remote.Status != merge.StatusOpen
	ciChanged := ci != pr.PR.CIStatus

	switch {
	case prChanged:
		if err := s.store.UpdatePRStatus(ctx, pr.ID, remote.Status, remote.MergeCommitSHA, ci); err != nil {
			return err
		}
		s.invalidate()
		switch remote.Status {
		case merge.StatusMerged:
			if err := s.completeMergedPR(ctx, pr); err != nil {
				return err
			}
		case merge.StatusClosed:
			s.notifyPRClosed(ctx, pr)
		}
	case ciChanged:
		if err := s.store.UpdatePRCIStatus(ctx, pr.ID, ci); err != nil {
			return err
		}
		s.invalidate()
		s.publish(events.NewEvent(events.EventCIChanged, "", map[string]any{
			"pr_number": pr.PR.Number,
			"ci_status": string(ci),
		}))
	}

	if remote.Status == merge.StatusOpen {
		if err := s.driftAndConflict(ctx, pr); err != nil {
			s.logger.Warn("failed to check/resolve conflicts", "pr", pr.PR.Number, "error", err)
		}
	}

	return nil
}

// completeMergedPR transitions the task to done and archives the
// workspace (unless pinned) after its PR merged. Analytics and share
// propagation are best-effort.
func (s *Service) completeMergedPR(ctx context.Context, pr *merge.PRMerge) error {
	workspace, err := s.store.FindWorkspace(ctx, pr.WorkspaceID)
	if err != nil {
		return err
	}
	if workspace == nil {
		return nil
	}

	s.logger.Info("pr merged, completing task",
		"pr", pr.PR.Number,
		"task", workspace.TaskID,
		"workspace", workspace.ID)

	if err := s.store.UpdateTaskStatus(ctx, workspace.TaskID, db.TaskDone); err != nil {
		return err
	}

	if !workspace.Pinned {
		if err := s.store.SetWorkspaceArchived(ctx, workspace.ID, true); err != nil {
			return err
		}
	}

	s.publish(events.NewEvent(events.EventPRMerged, workspace.TaskID, map[string]any{
		"pr_number":    pr.PR.Number,
		"workspace_id": workspace.ID,
	}))

	if s.share != nil {
		if err := s.share.UpdateSharedTask(ctx, workspace.TaskID); err != nil {
			s.logger.Warn("failed to propagate shared task update",
				"task", workspace.TaskID, "error", err)
		}
	}

	return nil
}

// notifyPRClosed emits the analytics event for a PR closed without
// merging. The workspace lookup is only for the task id; its failure
// degrades the event, never the reconcile.
func (s *Service) notifyPRClosed(ctx context.Context, pr *merge.PRMerge) {
	if s.publisher == nil {
		return
	}
	taskID := ""
	if workspace, err := s.store.FindWorkspace(ctx, pr.WorkspaceID); err == nil && workspace != nil {
		taskID = workspace.TaskID
	}
	s.publish(events.NewEvent(events.EventPRClosed, taskID, map[string]any{
		"pr_number":    pr.PR.Number,
		"workspace_id": pr.WorkspaceID,
	}))
}

func (s *Service) publish(event events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}
