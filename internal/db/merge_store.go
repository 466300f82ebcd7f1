package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/merge"
)

const mergeColumns = `id, workspace_id, repo_id, merge_type, merge_commit,
	target_branch_name, pr_number, pr_url, pr_status, pr_merged_at,
	pr_merge_commit_sha, pr_ci_status, created_at`

// CreateDirectMerge records a push-to-branch merge for a workspace.
func (d *DB) CreateDirectMerge(ctx context.Context, workspaceID, repoID, targetBranch, mergeCommit string) (*merge.DirectMerge, error) {
	if mergeCommit == "" {
		return nil, fmt.Errorf("direct merge requires a merge commit")
	}

	m := &merge.DirectMerge{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		RepoID:       repoID,
		MergeCommit:  mergeCommit,
		TargetBranch: targetBranch,
		CreatedAt:    time.Now().UTC(),
	}

	err := d.exec(ctx, `
		INSERT INTO merges (id, workspace_id, repo_id, merge_type, merge_commit, target_branch_name, created_at)
		VALUES (?, ?, ?, 'direct', ?, ?, ?)`,
		m.ID, m.WorkspaceID, m.RepoID, m.MergeCommit, m.TargetBranch, formatTime(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert direct merge: %w", err)
	}
	return m, nil
}

// CreatePRMerge records a newly opened pull request for a workspace.
// The record starts in status open with CI unknown.
func (d *DB) CreatePRMerge(ctx context.Context, workspaceID, repoID, targetBranch string, prNumber int64, prURL string) (*merge.PRMerge, error) {
	if prNumber <= 0 || prURL == "" {
		return nil, fmt.Errorf("pr merge requires a number and url")
	}

	m := &merge.PRMerge{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		RepoID:       repoID,
		TargetBranch: targetBranch,
		CreatedAt:    time.Now().UTC(),
		PR: merge.PullRequestInfo{
			Number:   prNumber,
			URL:      prURL,
			Status:   merge.StatusOpen,
			CIStatus: merge.CIUnknown,
		},
	}

	err := d.exec(ctx, `
		INSERT INTO merges (id, workspace_id, repo_id, merge_type, pr_number, pr_url, pr_status, pr_ci_status, target_branch_name, created_at)
		VALUES (?, ?, ?, 'pr', ?, ?, 'open', 'unknown', ?, ?)`,
		m.ID, m.WorkspaceID, m.RepoID, m.PR.Number, m.PR.URL, m.TargetBranch, formatTime(m.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert pr merge: %w", err)
	}
	return m, nil
}

// OpenPRs returns all PR merge records still in status open, newest first.
func (d *DB) OpenPRs(ctx context.Context) ([]merge.PRMerge, error) {
	rows, err := d.drv.Query(ctx, d.rebind(`
		SELECT `+mergeColumns+`
		FROM merges
		WHERE merge_type = 'pr' AND pr_status = 'open'
		ORDER BY created_at DESC`))
	if err != nil {
		return nil, fmt.Errorf("query open prs: %w", err)
	}
	defer rows.Close()

	var prs []merge.PRMerge
	for rows.Next() {
		m, err := scanMerge(rows)
		if err != nil {
			return nil, err
		}
		if m.PR != nil {
			prs = append(prs, *m.PR)
		}
	}
	return prs, rows.Err()
}

// UpdatePRStatus writes the latest host-observed PR state for a merge record.
// merged_at is set to now when the new status is merged and cleared otherwise.
// The write is unconditional; the reconciler only calls it on transitions to
// a terminal state, which is what keeps merged/closed records from reopening.
func (d *DB) UpdatePRStatus(ctx context.Context, mergeID string, status merge.Status, mergeCommitSHA string, ci merge.CIStatus) error {
	var mergedAt *string
	if status == merge.StatusMerged {
		s := nowString()
		mergedAt = &s
	}

	var sha *string
	if mergeCommitSHA != "" {
		sha = &mergeCommitSHA
	}

	err := d.exec(ctx, `
		UPDATE merges
		SET pr_status = ?, pr_merge_commit_sha = ?, pr_merged_at = ?, pr_ci_status = ?
		WHERE id = ?`,
		string(status), sha, mergedAt, string(ci), mergeID)
	if err != nil {
		return fmt.Errorf("update pr status: %w", err)
	}
	return nil
}

// UpdatePRCIStatus writes only the CI status for a merge record.
func (d *DB) UpdatePRCIStatus(ctx context.Context, mergeID string, ci merge.CIStatus) error {
	if err := d.exec(ctx, `UPDATE merges SET pr_ci_status = ? WHERE id = ?`, string(ci), mergeID); err != nil {
		return fmt.Errorf("update pr ci status: %w", err)
	}
	return nil
}

// MergesByWorkspace returns all merge records for a workspace, newest first.
func (d *DB) MergesByWorkspace(ctx context.Context, workspaceID string) ([]merge.Merge, error) {
	return d.queryMerges(ctx, `
		SELECT `+mergeColumns+`
		FROM merges
		WHERE workspace_id = ?
		ORDER BY created_at DESC`, workspaceID)
}

// MergesByWorkspaceAndRepo returns merge records for a workspace and repo, newest first.
func (d *DB) MergesByWorkspaceAndRepo(ctx context.Context, workspaceID, repoID string) ([]merge.Merge, error) {
	return d.queryMerges(ctx, `
		SELECT `+mergeColumns+`
		FROM merges
		WHERE workspace_id = ? AND repo_id = ?
		ORDER BY created_at DESC`, workspaceID, repoID)
}

func (d *DB) queryMerges(ctx context.Context, query string, args ...any) ([]merge.Merge, error) {
	rows, err := d.drv.Query(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query merges: %w", err)
	}
	defer rows.Close()

	var merges []merge.Merge
	for rows.Next() {
		m, err := scanMerge(rows)
		if err != nil {
			return nil, err
		}
		merges = append(merges, m)
	}
	return merges, rows.Err()
}

// LatestPRStatusByWorkspace returns the status of each workspace's most
// recent PR record, restricted to workspaces with the given archived flag.
func (d *DB) LatestPRStatusByWorkspace(ctx context.Context, archived bool) (map[string]merge.Status, error) {
	rows, err := d.drv.Query(ctx, d.rebind(`
		SELECT m.workspace_id, m.pr_status
		FROM merges m
		INNER JOIN (
			SELECT workspace_id, MAX(created_at) AS max_created_at
			FROM merges
			WHERE merge_type = 'pr'
			GROUP BY workspace_id
		) latest ON m.workspace_id = latest.workspace_id
			AND m.created_at = latest.max_created_at
		INNER JOIN workspaces w ON m.workspace_id = w.id
		WHERE m.merge_type = 'pr' AND w.archived = ?`), boolToInt(archived))
	if err != nil {
		return nil, fmt.Errorf("query latest pr status: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]merge.Status)
	for rows.Next() {
		var workspaceID string
		var status sql.NullString
		if err := rows.Scan(&workspaceID, &status); err != nil {
			return nil, err
		}
		if status.Valid {
			statuses[workspaceID] = merge.Status(status.String)
		}
	}
	return statuses, rows.Err()
}

// TaskPRStatus pairs the latest PR status and CI status observed for a task.
type TaskPRStatus struct {
	Status   *merge.Status
	CIStatus *merge.CIStatus
}

// LatestPRAndCIByTask returns, for each task in the project, the PR and CI
// status of the newest PR record across the task's workspaces.
func (d *DB) LatestPRAndCIByTask(ctx context.Context, projectID string) (map[string]TaskPRStatus, error) {
	rows, err := d.drv.Query(ctx, d.rebind(`
		SELECT w.task_id, m.pr_status, m.pr_ci_status
		FROM merges m
		INNER JOIN (
			SELECT w2.task_id, MAX(m2.created_at) AS max_created_at
			FROM merges m2
			INNER JOIN workspaces w2 ON m2.workspace_id = w2.id
			INNER JOIN tasks t ON w2.task_id = t.id
			WHERE m2.merge_type = 'pr' AND t.project_id = ?
			GROUP BY w2.task_id
		) latest ON m.created_at = latest.max_created_at
		INNER JOIN workspaces w ON m.workspace_id = w.id AND w.task_id = latest.task_id
		WHERE m.merge_type = 'pr'`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query latest pr/ci by task: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]TaskPRStatus)
	for rows.Next() {
		var taskID string
		var prStatus, ciStatus sql.NullString
		if err := rows.Scan(&taskID, &prStatus, &ciStatus); err != nil {
			return nil, err
		}
		var entry TaskPRStatus
		if prStatus.Valid {
			s := merge.Status(prStatus.String)
			entry.Status = &s
		}
		if ciStatus.Valid {
			c := merge.CIStatus(ciStatus.String)
			entry.CIStatus = &c
		}
		statuses[taskID] = entry
	}
	return statuses, rows.Err()
}

// scanMerge reads one merges row and dispatches on merge_type. Per-variant
// invariants (direct has a merge commit, pr has number/url/status) are
// enforced here so malformed rows surface as errors instead of zero values.
func scanMerge(rows *sql.Rows) (merge.Merge, error) {
	var (
		id, workspaceID, repoID, mergeType, targetBranch, createdAt string
		mergeCommit, prURL, prStatus, prMergedAt, prSHA, prCI       sql.NullString
		prNumber                                                    sql.NullInt64
	)
	if err := rows.Scan(&id, &workspaceID, &repoID, &mergeType, &mergeCommit,
		&targetBranch, &prNumber, &prURL, &prStatus, &prMergedAt, &prSHA, &prCI, &createdAt); err != nil {
		return merge.Merge{}, fmt.Errorf("scan merge row: %w", err)
	}

	switch mergeType {
	case "direct":
		if !mergeCommit.Valid || mergeCommit.String == "" {
			return merge.Merge{}, fmt.Errorf("direct merge %s has no merge commit", id)
		}
		return merge.Merge{Direct: &merge.DirectMerge{
			ID:           id,
			WorkspaceID:  workspaceID,
			RepoID:       repoID,
			MergeCommit:  mergeCommit.String,
			TargetBranch: targetBranch,
			CreatedAt:    parseTime(createdAt),
		}}, nil
	case "pr":
		if !prNumber.Valid || !prURL.Valid || !prStatus.Valid {
			return merge.Merge{}, fmt.Errorf("pr merge %s is missing pr fields", id)
		}
		ci := merge.CIUnknown
		if prCI.Valid {
			ci = merge.CIStatus(prCI.String)
		}
		var mergedAt *time.Time
		if prMergedAt.Valid {
			mergedAt = parseTimePtr(&prMergedAt.String)
		}
		return merge.Merge{PR: &merge.PRMerge{
			ID:           id,
			WorkspaceID:  workspaceID,
			RepoID:       repoID,
			TargetBranch: targetBranch,
			CreatedAt:    parseTime(createdAt),
			PR: merge.PullRequestInfo{
				Number:         prNumber.Int64,
				URL:            prURL.String,
				Status:         merge.Status(prStatus.String),
				MergedAt:       mergedAt,
				MergeCommitSHA: prSHA.String,
				CIStatus:       ci,
			},
		}}, nil
	default:
		return merge.Merge{}, fmt.Errorf("unknown merge_type %q for merge %s", mergeType, id)
	}
}
