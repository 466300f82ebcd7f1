package githost

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/merge"
)

type prResponse struct {
	Number      int64      `json:"number"`
	URL         string     `json:"url"`
	State       string     `json:"state"`
	MergedAt    *time.Time `json:"mergedAt"`
	MergeCommit *struct {
		OID string `json:"oid"`
	} `json:"mergeCommit"`
}

func parseRepoInfo(raw string) (RepoInfo, error) {
	var resp struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return RepoInfo{}, fmt.Errorf("%w: parse repo view: %s", ErrUnexpectedOutput, err)
	}
	if resp.Owner.Login == "" || resp.Name == "" {
		return RepoInfo{}, fmt.Errorf("%w: repo view missing owner or name", ErrUnexpectedOutput)
	}
	return RepoInfo{Owner: resp.Owner.Login, Name: resp.Name}, nil
}

// parsePRCreateOutput extracts the PR URL and number from gh pr create
// output, which mixes banner text with the URL. Tokens are scanned in
// reverse line order so the URL at the end wins.
func parsePRCreateOutput(raw string) (merge.PullRequestInfo, error) {
	lines := strings.Split(raw, "\n")

	var prURL string
	for i := len(lines) - 1; i >= 0 && prURL == ""; i-- {
		for _, token := range strings.Fields(lines[i]) {
			token = strings.Trim(token, "<>")
			if strings.HasPrefix(token, "http") && strings.Contains(token, "/pull/") {
				prURL = strings.TrimRight(token, ".,;>")
				break
			}
		}
	}
	if prURL == "" {
		return merge.PullRequestInfo{}, fmt.Errorf(
			"%w: pr create did not return a pull request URL; raw output: %s", ErrUnexpectedOutput, raw)
	}

	last := prURL[strings.LastIndex(prURL, "/")+1:]
	last = strings.TrimRightFunc(last, func(r rune) bool { return r < '0' || r > '9' })
	number, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return merge.PullRequestInfo{}, fmt.Errorf(
			"%w: parse PR number from URL %q: %s", ErrUnexpectedOutput, prURL, err)
	}

	return merge.PullRequestInfo{
		Number:   number,
		URL:      prURL,
		Status:   merge.StatusOpen,
		CIStatus: merge.CIUnknown,
	}, nil
}

func parsePRView(raw string) (merge.PullRequestInfo, error) {
	var pr prResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &pr); err != nil {
		return merge.PullRequestInfo{}, fmt.Errorf("%w: parse pr view: %s", ErrUnexpectedOutput, err)
	}
	return prResponseToInfo(pr), nil
}

func parsePRList(raw string) ([]merge.PullRequestInfo, error) {
	var prs []prResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &prs); err != nil {
		return nil, fmt.Errorf("%w: parse pr list: %s", ErrUnexpectedOutput, err)
	}
	infos := make([]merge.PullRequestInfo, 0, len(prs))
	for _, pr := range prs {
		infos = append(infos, prResponseToInfo(pr))
	}
	return infos, nil
}

func prResponseToInfo(pr prResponse) merge.PullRequestInfo {
	info := merge.PullRequestInfo{
		Number:   pr.Number,
		URL:      pr.URL,
		Status:   merge.ParseStatus(pr.State),
		MergedAt: pr.MergedAt,
		CIStatus: merge.CIUnknown,
	}
	if pr.MergeCommit != nil {
		info.MergeCommitSHA = pr.MergeCommit.OID
	}
	return info
}

// parsePRChecks aggregates gh pr checks output into one CI status with
// precedence failing > pending > passing > unknown. An empty check list
// means no CI is configured.
func parsePRChecks(raw string) (merge.CIStatus, error) {
	var checks []struct {
		State      string  `json:"state"`
		Conclusion *string `json:"conclusion"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &checks); err != nil {
		return merge.CIUnknown, fmt.Errorf("%w: parse pr checks: %s", ErrUnexpectedOutput, err)
	}

	if len(checks) == 0 {
		return merge.CIUnknown, nil
	}

	hasPending := false
	hasFailure := false
	allSuccess := true

	for _, check := range checks {
		state := strings.ToLower(check.State)
		switch state {
		case "pending", "queued", "in_progress", "waiting":
			hasPending = true
			allSuccess = false
		case "completed":
			if check.Conclusion == nil {
				allSuccess = false
				continue
			}
			switch strings.ToLower(*check.Conclusion) {
			case "success", "skipped", "neutral":
				// Passing.
			case "failure", "cancelled", "timed_out", "action_required":
				hasFailure = true
				allSuccess = false
			default:
				allSuccess = false
			}
		default:
			allSuccess = false
		}
	}

	switch {
	case hasFailure:
		return merge.CIFailing, nil
	case hasPending:
		return merge.CIPending, nil
	case allSuccess:
		return merge.CIPassing, nil
	default:
		return merge.CIUnknown, nil
	}
}

// CIFailure describes one failed check on a pull request.
type CIFailure struct {
	Name       string
	Conclusion string
	DetailsURL string
}

func parseCheckFailures(raw string) ([]CIFailure, error) {
	var checks []struct {
		Name       string  `json:"name"`
		State      string  `json:"state"`
		Conclusion *string `json:"conclusion"`
		DetailsURL string  `json:"detailsUrl"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &checks); err != nil {
		return nil, fmt.Errorf("%w: parse pr checks: %s", ErrUnexpectedOutput, err)
	}

	var failures []CIFailure
	for _, check := range checks {
		if strings.ToLower(check.State) != "completed" || check.Conclusion == nil {
			continue
		}
		switch strings.ToLower(*check.Conclusion) {
		case "failure", "cancelled", "timed_out":
			failures = append(failures, CIFailure{
				Name:       check.Name,
				Conclusion: *check.Conclusion,
				DetailsURL: check.DetailsURL,
			})
		}
	}
	return failures, nil
}
