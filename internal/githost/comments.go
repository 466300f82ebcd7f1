package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Comment is a conversation comment on a pull request.
type Comment struct {
	ID                string
	Author            string
	AuthorAssociation string
	Body              string
	CreatedAt         time.Time
	URL               string
}

// ReviewComment is an inline review comment on a pull request diff.
type ReviewComment struct {
	ID                int64
	Author            string
	Body              string
	CreatedAt         time.Time
	HTMLURL           string
	Path              string
	Line              *int64
	Side              string
	DiffHunk          string
	AuthorAssociation string
}

// Issue is a host issue, suitable for importing as a task.
type Issue struct {
	Number    int64
	Title     string
	Body      string
	State     string
	URL       string
	CreatedAt time.Time
	Labels    []string
}

// PRComments fetches conversation comments for a pull request.
func (c *Client) PRComments(ctx context.Context, owner, name string, prNumber int64) ([]Comment, error) {
	raw, err := c.run(ctx, "", "pr", "view", strconv.FormatInt(prNumber, 10),
		"--repo", owner+"/"+name,
		"--json", "comments")
	if err != nil {
		return nil, err
	}
	return parsePRComments(raw)
}

// PRReviewComments fetches inline review comments via the REST API.
func (c *Client) PRReviewComments(ctx context.Context, owner, name string, prNumber int64) ([]ReviewComment, error) {
	raw, err := c.run(ctx, "", "api",
		fmt.Sprintf("repos/%s/%s/pulls/%d/comments", owner, name, prNumber))
	if err != nil {
		return nil, err
	}
	return parseReviewComments(raw)
}

// ListIssues lists issues for a repository. state is "open", "closed", or
// "all" (default open); limit defaults to 100.
func (c *Client) ListIssues(ctx context.Context, owner, name, state string, limit int) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	if limit <= 0 {
		limit = 100
	}
	raw, err := c.run(ctx, "", "issue", "list",
		"--repo", owner+"/"+name,
		"--state", state,
		"--limit", strconv.Itoa(limit),
		"--json", "number,title,body,state,url,createdAt,labels")
	if err != nil {
		return nil, err
	}
	return parseIssues(raw)
}

func parsePRComments(raw string) ([]Comment, error) {
	var wrapper struct {
		Comments []struct {
			ID     string `json:"id"`
			Author *struct {
				Login string `json:"login"`
			} `json:"author"`
			AuthorAssociation string     `json:"authorAssociation"`
			Body              string     `json:"body"`
			CreatedAt         *time.Time `json:"createdAt"`
			URL               string     `json:"url"`
		} `json:"comments"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
		return nil, fmt.Errorf("%w: parse pr comments: %s", ErrUnexpectedOutput, err)
	}

	comments := make([]Comment, 0, len(wrapper.Comments))
	for _, rc := range wrapper.Comments {
		author := "unknown"
		if rc.Author != nil && rc.Author.Login != "" {
			author = rc.Author.Login
		}
		createdAt := time.Now().UTC()
		if rc.CreatedAt != nil {
			createdAt = *rc.CreatedAt
		}
		comments = append(comments, Comment{
			ID:                rc.ID,
			Author:            author,
			AuthorAssociation: rc.AuthorAssociation,
			Body:              rc.Body,
			CreatedAt:         createdAt,
			URL:               rc.URL,
		})
	}
	return comments, nil
}

func parseReviewComments(raw string) ([]ReviewComment, error) {
	var items []struct {
		ID   int64 `json:"id"`
		User *struct {
			Login string `json:"login"`
		} `json:"user"`
		Body              string     `json:"body"`
		CreatedAt         *time.Time `json:"created_at"`
		HTMLURL           string     `json:"html_url"`
		Path              string     `json:"path"`
		Line              *int64     `json:"line"`
		Side              string     `json:"side"`
		DiffHunk          string     `json:"diff_hunk"`
		AuthorAssociation string     `json:"author_association"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: parse review comments: %s", ErrUnexpectedOutput, err)
	}

	comments := make([]ReviewComment, 0, len(items))
	for _, rc := range items {
		author := "unknown"
		if rc.User != nil && rc.User.Login != "" {
			author = rc.User.Login
		}
		createdAt := time.Now().UTC()
		if rc.CreatedAt != nil {
			createdAt = *rc.CreatedAt
		}
		comments = append(comments, ReviewComment{
			ID:                rc.ID,
			Author:            author,
			Body:              rc.Body,
			CreatedAt:         createdAt,
			HTMLURL:           rc.HTMLURL,
			Path:              rc.Path,
			Line:              rc.Line,
			Side:              rc.Side,
			DiffHunk:          rc.DiffHunk,
			AuthorAssociation: rc.AuthorAssociation,
		})
	}
	return comments, nil
}

func parseIssues(raw string) ([]Issue, error) {
	var items []struct {
		Number    int64     `json:"number"`
		Title     string    `json:"title"`
		Body      string    `json:"body"`
		State     string    `json:"state"`
		URL       string    `json:"url"`
		CreatedAt time.Time `json:"createdAt"`
		Labels    []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: parse issue list: %s", ErrUnexpectedOutput, err)
	}

	issues := make([]Issue, 0, len(items))
	for _, ri := range items {
		labels := make([]string, 0, len(ri.Labels))
		for _, l := range ri.Labels {
			labels = append(labels, l.Name)
		}
		issues = append(issues, Issue{
			Number:    ri.Number,
			Title:     ri.Title,
			Body:      ri.Body,
			State:     ri.State,
			URL:       ri.URL,
			CreatedAt: ri.CreatedAt,
			Labels:    labels,
		})
	}
	return issues, nil
}
