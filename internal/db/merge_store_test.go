package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/merge"
)

func seedWorkspace(t *testing.T, d *DB, projectID string) *Workspace {
	t.Helper()
	ctx := context.Background()

	task := &Task{ProjectID: projectID, Title: "test task", Status: TaskInReview}
	require.NoError(t, d.CreateTask(ctx, task))

	ws := &Workspace{TaskID: task.ID, Branch: "loom/test"}
	require.NoError(t, d.CreateWorkspace(ctx, ws))
	return ws
}

func seedRepo(t *testing.T, d *DB) *Repo {
	t.Helper()
	repo := &Repo{Name: "widgets", Path: "/srv/repos/widgets"}
	require.NoError(t, d.CreateRepo(context.Background(), repo))
	return repo
}

func TestCreatePRMergeAndOpenPRs(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)

	pr, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 7, "https://github.com/acme/widgets/pull/7")
	require.NoError(t, err)
	assert.Equal(t, merge.StatusOpen, pr.PR.Status)
	assert.Equal(t, merge.CIUnknown, pr.PR.CIStatus)

	open, err := d.OpenPRs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(7), open[0].PR.Number)
	assert.Equal(t, "main", open[0].TargetBranch)
	assert.Nil(t, open[0].PR.MergedAt)
}

func TestCreatePRMergeValidation(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)

	_, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 0, "https://github.com/acme/widgets/pull/7")
	assert.Error(t, err)
	_, err = d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 7, "")
	assert.Error(t, err)
}

func TestCreateDirectMergeRequiresCommit(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)

	_, err := d.CreateDirectMerge(ctx, ws.ID, repo.ID, "main", "")
	assert.Error(t, err)

	direct, err := d.CreateDirectMerge(ctx, ws.ID, repo.ID, "main", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", direct.MergeCommit)
}

func TestUpdatePRStatusSetsMergedAtOnlyWhenMerged(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)
	pr, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 7, "https://github.com/acme/widgets/pull/7")
	require.NoError(t, err)

	require.NoError(t, d.UpdatePRStatus(ctx, pr.ID, merge.StatusMerged, "abc", merge.CIPassing))

	merges, err := d.MergesByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	got := merges[0].PR
	require.NotNil(t, got)
	assert.Equal(t, merge.StatusMerged, got.PR.Status)
	assert.Equal(t, "abc", got.PR.MergeCommitSHA)
	assert.Equal(t, merge.CIPassing, got.PR.CIStatus)
	require.NotNil(t, got.PR.MergedAt)
	assert.WithinDuration(t, time.Now(), *got.PR.MergedAt, 5*time.Second)

	// A non-merged write clears merged_at again.
	require.NoError(t, d.UpdatePRStatus(ctx, pr.ID, merge.StatusClosed, "", merge.CIPassing))
	merges, err = d.MergesByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Nil(t, merges[0].PR.PR.MergedAt)
}

func TestUpdatePRCIStatusOnly(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)
	pr, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 8, "https://github.com/acme/widgets/pull/8")
	require.NoError(t, err)

	require.NoError(t, d.UpdatePRCIStatus(ctx, pr.ID, merge.CIFailing))

	open, err := d.OpenPRs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, merge.StatusOpen, open[0].PR.Status)
	assert.Equal(t, merge.CIFailing, open[0].PR.CIStatus)
	assert.Nil(t, open[0].PR.MergedAt)
}

func TestMergedPRLeavesOpenSet(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)
	pr, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 9, "https://github.com/acme/widgets/pull/9")
	require.NoError(t, err)

	require.NoError(t, d.UpdatePRStatus(ctx, pr.ID, merge.StatusMerged, "abc", merge.CIUnknown))

	open, err := d.OpenPRs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestMergesByWorkspaceDispatchesVariants(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)

	_, err := d.CreateDirectMerge(ctx, ws.ID, repo.ID, "main", "fff000")
	require.NoError(t, err)
	_, err = d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 10, "https://github.com/acme/widgets/pull/10")
	require.NoError(t, err)

	merges, err := d.MergesByWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, merges, 2)

	var directs, prs int
	for _, m := range merges {
		switch {
		case m.Direct != nil:
			directs++
		case m.PR != nil:
			prs++
		}
	}
	assert.Equal(t, 1, directs)
	assert.Equal(t, 1, prs)
}

func TestLatestPRStatusByWorkspace(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-1")
	repo := seedRepo(t, d)

	first, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 1, "https://github.com/acme/widgets/pull/1")
	require.NoError(t, err)
	require.NoError(t, d.UpdatePRStatus(ctx, first.ID, merge.StatusClosed, "", merge.CIUnknown))

	// Later record wins. Sleep keeps created_at strictly increasing at
	// RFC3339Nano resolution.
	time.Sleep(2 * time.Millisecond)
	_, err = d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 2, "https://github.com/acme/widgets/pull/2")
	require.NoError(t, err)

	statuses, err := d.LatestPRStatusByWorkspace(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusOpen, statuses[ws.ID])

	// Archived filter excludes the workspace.
	require.NoError(t, d.SetWorkspaceArchived(ctx, ws.ID, true))
	statuses, err = d.LatestPRStatusByWorkspace(ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, statuses, ws.ID)
}

func TestLatestPRAndCIByTask(t *testing.T) {
	t.Parallel()
	d := NewTestDB(t)
	ctx := context.Background()

	ws := seedWorkspace(t, d, "proj-7")
	repo := seedRepo(t, d)

	pr, err := d.CreatePRMerge(ctx, ws.ID, repo.ID, "main", 3, "https://github.com/acme/widgets/pull/3")
	require.NoError(t, err)
	require.NoError(t, d.UpdatePRCIStatus(ctx, pr.ID, merge.CIPending))

	statuses, err := d.LatestPRAndCIByTask(ctx, "proj-7")
	require.NoError(t, err)

	workspace, err := d.FindWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	entry, ok := statuses[workspace.TaskID]
	require.True(t, ok)
	require.NotNil(t, entry.Status)
	require.NotNil(t, entry.CIStatus)
	assert.Equal(t, merge.StatusOpen, *entry.Status)
	assert.Equal(t, merge.CIPending, *entry.CIStatus)

	// Other projects see nothing.
	other, err := d.LatestPRAndCIByTask(ctx, "proj-other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
