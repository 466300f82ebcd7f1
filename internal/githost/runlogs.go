package githost

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// logTailLines bounds how much of a job log is returned upstream.
const logTailLines = 200

type failedJob struct {
	id         int64
	name       string
	conclusion string
}

// RunLogs fetches logs for the failed jobs of a workflow run. Each job's
// log is truncated to its last 200 lines.
func (c *Client) RunLogs(ctx context.Context, owner, name string, runID int64) (string, error) {
	jobsRaw, err := c.run(ctx, "", "api",
		fmt.Sprintf("repos/%s/%s/actions/runs/%d/jobs", owner, name, runID))
	if err != nil {
		return "", err
	}

	failed, err := parseFailedJobs(jobsRaw)
	if err != nil {
		return "", err
	}
	if len(failed) == 0 {
		return "No failed jobs found in this run.", nil
	}

	var logs []string
	for _, job := range failed {
		logRaw, err := c.run(ctx, "", "api",
			fmt.Sprintf("repos/%s/%s/actions/jobs/%d/logs", owner, name, job.id))
		if err != nil {
			logs = append(logs, fmt.Sprintf(
				"=== Job: %s (conclusion: %s) ===\nUnable to fetch logs for this job.",
				job.name, job.conclusion))
			continue
		}
		logs = append(logs, fmt.Sprintf("=== Job: %s (conclusion: %s) ===\n%s",
			job.name, job.conclusion, tailLines(logRaw, logTailLines)))
	}

	return strings.Join(logs, "\n\n"), nil
}

// parseFailedJobs plucks the failed jobs out of the Actions jobs API
// response. The payload is large and loosely structured; gjson keeps the
// extraction to the three fields we need.
func parseFailedJobs(raw string) ([]failedJob, error) {
	jobs := gjson.Get(raw, "jobs")
	if !jobs.Exists() || !jobs.IsArray() {
		return nil, fmt.Errorf("%w: workflow jobs response has no jobs array", ErrUnexpectedOutput)
	}

	var failed []failedJob
	for _, job := range jobs.Array() {
		switch job.Get("conclusion").String() {
		case "failure", "cancelled", "timed_out":
			failed = append(failed, failedJob{
				id:         job.Get("id").Int(),
				name:       job.Get("name").String(),
				conclusion: job.Get("conclusion").String(),
			})
		}
	}
	return failed, nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
