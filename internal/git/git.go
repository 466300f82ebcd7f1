// Package git inspects and manipulates workspace worktrees: drift
// detection, rebase, force push, and conflict recovery.
package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMergeConflicts is returned when a rebase stops on conflicts. The
// worktree is left in the in-progress state so conflicted files can be
// listed; callers must abort before handing control back.
var ErrMergeConflicts = errors.New("merge conflicts")

// ErrProtectedBranch is returned when a push targets a protected branch.
var ErrProtectedBranch = errors.New("push to protected branch blocked")

// DefaultProtectedBranches are refused as push targets unless overridden.
var DefaultProtectedBranches = []string{"main", "master", "develop", "release"}

// Driver runs git against workspace worktrees.
type Driver struct {
	runner            CommandRunner
	protectedBranches []string
}

// Option configures a Driver.
type Option func(*Driver)

// WithRunner sets the command runner (used by tests).
func WithRunner(r CommandRunner) Option {
	return func(d *Driver) { d.runner = r }
}

// WithProtectedBranches overrides the protected branch list.
func WithProtectedBranches(branches []string) Option {
	return func(d *Driver) { d.protectedBranches = branches }
}

// NewDriver creates a worktree driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		runner:            NewExecRunner(),
		protectedBranches: DefaultProtectedBranches,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BranchStatus returns how many commits branch and target each have that
// the other does not, measured from their common ancestor.
func (d *Driver) BranchStatus(ctx context.Context, worktree, branch, target string) (ahead, behind int, err error) {
	out, err := d.runner.Run(ctx, worktree, "git",
		"rev-list", "--left-right", "--count", branch+"..."+target)
	if err != nil {
		return 0, 0, fmt.Errorf("branch status %s...%s: %w", branch, target, err)
	}

	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output %q", out)
	}
	ahead, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse ahead count %q: %w", fields[0], err)
	}
	behind, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse behind count %q: %w", fields[1], err)
	}
	return ahead, behind, nil
}

// BaseCommit returns the common ancestor of branch and target, i.e. the
// commit the branch was forked from.
func (d *Driver) BaseCommit(ctx context.Context, worktree, branch, target string) (string, error) {
	out, err := d.runner.Run(ctx, worktree, "git", "merge-base", branch, target)
	if err != nil {
		return "", fmt.Errorf("merge-base %s %s: %w", branch, target, err)
	}
	return out, nil
}

// Rebase replays the commits of branch since oldBase onto newBase and
// returns the new HEAD. The new base ref is resolved against repoPath (the
// primary checkout, which worktrees share objects with) so a target branch
// only present there still rebases. On conflict it fails with
// ErrMergeConflicts and leaves the rebase in progress so ConflictedFiles
// can observe it.
func (d *Driver) Rebase(ctx context.Context, repoPath, worktree, newBase, oldBase, branch string) (string, error) {
	if repoPath != "" {
		if sha, err := d.runner.Run(ctx, repoPath, "git", "rev-parse", "--verify", newBase); err == nil {
			newBase = sha
		}
	}

	_, err := d.runner.Run(ctx, worktree, "git", "rebase", "--onto", newBase, oldBase, branch)
	if err != nil {
		msg := err.Error()
		if isConflictOutput(msg) {
			return "", fmt.Errorf("%w: %s", ErrMergeConflicts, msg)
		}
		return "", fmt.Errorf("rebase %s onto %s: %w", branch, newBase, err)
	}

	head, err := d.runner.Run(ctx, worktree, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return head, nil
}

func isConflictOutput(out string) bool {
	return strings.Contains(out, "CONFLICT") ||
		strings.Contains(out, "could not apply") ||
		strings.Contains(out, "Resolve all conflicts")
}

// Push pushes branch to origin. After a rebase the history diverges from
// the remote, so callers pass force.
func (d *Driver) Push(ctx context.Context, worktree, branch string, force bool) error {
	for _, protected := range d.protectedBranches {
		if branch == protected {
			return fmt.Errorf("%w: %s", ErrProtectedBranch, branch)
		}
	}

	args := []string{"push", "origin", branch}
	if force {
		args = []string{"push", "--force", "origin", branch}
	}
	if _, err := d.runner.Run(ctx, worktree, "git", args...); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// ConflictedFiles lists paths with unresolved conflicts in the worktree.
func (d *Driver) ConflictedFiles(ctx context.Context, worktree string) ([]string, error) {
	out, err := d.runner.Run(ctx, worktree, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// AbortConflicts aborts any in-progress rebase or merge, restoring the
// worktree to its pre-operation state. Idempotent: a worktree with no
// operation in progress is not an error.
func (d *Driver) AbortConflicts(ctx context.Context, worktree string) error {
	if _, err := d.runner.Run(ctx, worktree, "git", "rebase", "--abort"); err != nil {
		if !isNoOperationInProgress(err.Error()) {
			return fmt.Errorf("rebase abort: %w", err)
		}
	}
	if _, err := d.runner.Run(ctx, worktree, "git", "merge", "--abort"); err != nil {
		if !isNoOperationInProgress(err.Error()) {
			return fmt.Errorf("merge abort: %w", err)
		}
	}
	return nil
}

func isNoOperationInProgress(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "no rebase in progress") ||
		strings.Contains(lower, "merge_head missing") ||
		strings.Contains(lower, "there is no merge to abort")
}
