package githost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/merge"
)

func TestParsePRChecks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want merge.CIStatus
	}{
		{
			name: "empty list",
			raw:  `[]`,
			want: merge.CIUnknown,
		},
		{
			name: "all success",
			raw: `[{"state":"completed","conclusion":"success"},
			       {"state":"completed","conclusion":"skipped"},
			       {"state":"completed","conclusion":"neutral"}]`,
			want: merge.CIPassing,
		},
		{
			name: "failure wins over pending",
			raw: `[{"state":"pending"},
			       {"state":"completed","conclusion":"failure"}]`,
			want: merge.CIFailing,
		},
		{
			name: "pending wins over passing",
			raw: `[{"state":"completed","conclusion":"success"},
			       {"state":"pending"}]`,
			want: merge.CIPending,
		},
		{
			name: "queued counts as pending",
			raw:  `[{"state":"queued"}]`,
			want: merge.CIPending,
		},
		{
			name: "in_progress counts as pending",
			raw:  `[{"state":"in_progress"},{"state":"waiting"}]`,
			want: merge.CIPending,
		},
		{
			name: "cancelled is a failure",
			raw:  `[{"state":"completed","conclusion":"cancelled"}]`,
			want: merge.CIFailing,
		},
		{
			name: "timed_out is a failure",
			raw:  `[{"state":"completed","conclusion":"timed_out"}]`,
			want: merge.CIFailing,
		},
		{
			name: "action_required is a failure",
			raw:  `[{"state":"completed","conclusion":"action_required"}]`,
			want: merge.CIFailing,
		},
		{
			name: "unknown conclusion is not success",
			raw: `[{"state":"completed","conclusion":"stale"},
			       {"state":"completed","conclusion":"success"}]`,
			want: merge.CIUnknown,
		},
		{
			name: "missing conclusion is not success",
			raw:  `[{"state":"completed"}]`,
			want: merge.CIUnknown,
		},
		{
			name: "unknown state is not success",
			raw:  `[{"state":"requested"}]`,
			want: merge.CIUnknown,
		},
		{
			name: "case insensitive",
			raw:  `[{"state":"COMPLETED","conclusion":"SUCCESS"}]`,
			want: merge.CIPassing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePRChecks(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePRChecksInvalidJSON(t *testing.T) {
	_, err := parsePRChecks("not json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedOutput))
}

func TestParsePRCreateOutput(t *testing.T) {
	raw := `Warning: 2 uncommitted changes

Creating pull request for feature-branch into main in acme/widgets

https://github.com/acme/widgets/pull/42
`
	info, err := parsePRCreateOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(42), info.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", info.URL)
	assert.Equal(t, merge.StatusOpen, info.Status)
	assert.Equal(t, merge.CIUnknown, info.CIStatus)
}

func TestParsePRCreateOutputTrailingPunctuation(t *testing.T) {
	raw := "Created PR <https://github.com/acme/widgets/pull/7>."
	info, err := parsePRCreateOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", info.URL)
}

func TestParsePRCreateOutputNoURL(t *testing.T) {
	_, err := parsePRCreateOutput("nothing useful here")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedOutput))
}

func TestParsePRView(t *testing.T) {
	raw := `{
		"number": 12,
		"url": "https://github.com/acme/widgets/pull/12",
		"state": "MERGED",
		"mergedAt": "2025-05-01T10:30:00Z",
		"mergeCommit": {"oid": "abc123"}
	}`
	info, err := parsePRView(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(12), info.Number)
	assert.Equal(t, merge.StatusMerged, info.Status)
	assert.Equal(t, "abc123", info.MergeCommitSHA)
	require.NotNil(t, info.MergedAt)
}

func TestParsePRViewMissingState(t *testing.T) {
	raw := `{"number": 3, "url": "https://github.com/acme/widgets/pull/3"}`
	info, err := parsePRView(raw)
	require.NoError(t, err)
	assert.Equal(t, merge.StatusOpen, info.Status)
	assert.Nil(t, info.MergedAt)
	assert.Empty(t, info.MergeCommitSHA)
}

func TestParsePRList(t *testing.T) {
	raw := `[
		{"number": 1, "url": "https://github.com/acme/widgets/pull/1", "state": "closed"},
		{"number": 2, "url": "https://github.com/acme/widgets/pull/2", "state": "open"}
	]`
	infos, err := parsePRList(raw)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, merge.StatusClosed, infos[0].Status)
	assert.Equal(t, merge.StatusOpen, infos[1].Status)
}

func TestParseRepoInfo(t *testing.T) {
	info, err := parseRepoInfo(`{"owner": {"login": "acme"}, "name": "widgets"}`)
	require.NoError(t, err)
	assert.Equal(t, "acme", info.Owner)
	assert.Equal(t, "widgets", info.Name)
}

func TestParseRepoInfoMissingFields(t *testing.T) {
	_, err := parseRepoInfo(`{"name": "widgets"}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedOutput))
}

func TestParseCheckFailures(t *testing.T) {
	raw := `[
		{"name": "build", "state": "completed", "conclusion": "failure", "detailsUrl": "https://ci/1"},
		{"name": "lint", "state": "completed", "conclusion": "success"},
		{"name": "test", "state": "pending"}
	]`
	failures, err := parseCheckFailures(raw)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "build", failures[0].Name)
	assert.Equal(t, "https://ci/1", failures[0].DetailsURL)
}
