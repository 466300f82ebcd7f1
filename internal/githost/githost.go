// Package githost provides pull request operations against the git host
// using the gh CLI. Only the operations the reconciler and PR workflows
// need are covered; auth is delegated to the user's gh login.
package githost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loomworks/loom/internal/merge"
)

// Classified failures from the gh CLI. Callers branch with errors.Is.
var (
	// ErrNotAvailable means the gh binary is missing or not runnable.
	ErrNotAvailable = errors.New("gh executable not found")
	// ErrAuthFailed means the CLI rejected the stored credentials.
	ErrAuthFailed = errors.New("gh authentication failed")
	// ErrCommandFailed is any other non-zero exit.
	ErrCommandFailed = errors.New("gh command failed")
	// ErrUnexpectedOutput means the CLI output could not be parsed.
	ErrUnexpectedOutput = errors.New("gh returned unexpected output")
)

// RepoInfo identifies a repository on the host.
type RepoInfo struct {
	Owner string
	Name  string
}

// CreatePRRequest describes a pull request to open.
type CreatePRRequest struct {
	HeadBranch string
	BaseBranch string
	Title      string
	Body       string
	Draft      bool
}

// Client shells out to the gh CLI.
type Client struct{}

// NewClient creates a gh CLI client.
func NewClient() *Client {
	return &Client{}
}

// run executes gh with the given args, classifying failures. dir may be
// empty for commands that don't depend on the working directory.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	gh, err := exec.LookPath("gh")
	if err != nil {
		return "", ErrNotAvailable
	}

	cmd := exec.CommandContext(ctx, gh, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())

		// gh uses exit code 4 for auth failures; check it before falling
		// back to string matching for older versions.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 4 {
			return "", fmt.Errorf("%w: %s", ErrAuthFailed, msg)
		}
		if isAuthFailure(msg) {
			return "", fmt.Errorf("%w: %s", ErrAuthFailed, msg)
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrCommandFailed, msg)
	}

	return stdout.String(), nil
}

func isAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{
		"authentication failed",
		"must authenticate",
		"bad credentials",
		"unauthorized",
		"gh auth login",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RepoInfo returns the owner and name of the repository at localPath.
func (c *Client) RepoInfo(ctx context.Context, localPath string) (RepoInfo, error) {
	raw, err := c.run(ctx, localPath, "repo", "view", "--json", "owner,name")
	if err != nil {
		return RepoInfo{}, err
	}
	return parseRepoInfo(raw)
}

// CheckAuth verifies the gh CLI has valid credentials. A plain command
// failure from auth status still means the login is unusable, so it is
// reported as an auth failure.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, err := c.run(ctx, "", "auth", "status")
	if errors.Is(err, ErrCommandFailed) {
		msg := strings.TrimPrefix(err.Error(), ErrCommandFailed.Error()+": ")
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	}
	return err
}

// CreatePR opens a pull request and returns its parsed info. The body is
// passed via a temp file to avoid argument-length and quoting hazards.
func (c *Client) CreatePR(ctx context.Context, req CreatePRRequest, owner, name string) (merge.PullRequestInfo, error) {
	bodyFile, err := os.CreateTemp("", "loom-pr-body-*")
	if err != nil {
		return merge.PullRequestInfo{}, fmt.Errorf("%w: create body file: %s", ErrCommandFailed, err)
	}
	defer func() {
		_ = bodyFile.Close()
		_ = os.Remove(bodyFile.Name())
	}()
	if _, err := bodyFile.WriteString(req.Body); err != nil {
		return merge.PullRequestInfo{}, fmt.Errorf("%w: write body file: %s", ErrCommandFailed, err)
	}

	args := []string{
		"pr", "create",
		"--repo", owner + "/" + name,
		"--head", req.HeadBranch,
		"--base", req.BaseBranch,
		"--title", req.Title,
		"--body-file", bodyFile.Name(),
	}
	if req.Draft {
		args = append(args, "--draft")
	}

	raw, err := c.run(ctx, "", args...)
	if err != nil {
		return merge.PullRequestInfo{}, err
	}
	return parsePRCreateOutput(raw)
}

// ViewPR retrieves a pull request by URL.
func (c *Client) ViewPR(ctx context.Context, prURL string) (merge.PullRequestInfo, error) {
	raw, err := c.run(ctx, "", "pr", "view", prURL,
		"--json", "number,url,state,mergedAt,mergeCommit")
	if err != nil {
		return merge.PullRequestInfo{}, err
	}
	return parsePRView(raw)
}

// ListPRsForBranch lists pull requests (any state) with the given head branch.
func (c *Client) ListPRsForBranch(ctx context.Context, owner, name, branch string) ([]merge.PullRequestInfo, error) {
	raw, err := c.run(ctx, "", "pr", "list",
		"--repo", owner+"/"+name,
		"--state", "all",
		"--head", branch,
		"--json", "number,url,state,mergedAt,mergeCommit")
	if err != nil {
		return nil, err
	}
	return parsePRList(raw)
}

// CIStatus returns the aggregated check status for a pull request.
func (c *Client) CIStatus(ctx context.Context, prURL string) (merge.CIStatus, error) {
	raw, err := c.run(ctx, "", "pr", "checks", prURL, "--json", "name,state,conclusion")
	if err != nil {
		return merge.CIUnknown, err
	}
	return parsePRChecks(raw)
}

// CIFailures returns the failed checks for a pull request with details URLs.
func (c *Client) CIFailures(ctx context.Context, prURL string) ([]CIFailure, error) {
	raw, err := c.run(ctx, "", "pr", "checks", prURL, "--json", "name,state,conclusion,detailsUrl")
	if err != nil {
		return nil, err
	}
	return parseCheckFailures(raw)
}
