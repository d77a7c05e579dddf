package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
	"github.com/kurihiro0119/repo-harvester/internal/storage/jsonfile"
)

var repo = domain.Repository{Owner: "octo", Name: "hello"}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name     string
		kinds    []domain.EntityKind
		counts   map[domain.EntityKind]int
		expected string
	}{
		{
			name:     "selected kinds in display order",
			kinds:    []domain.EntityKind{domain.KindBranch, domain.KindCommit},
			counts:   map[domain.EntityKind]int{domain.KindCommit: 12, domain.KindBranch: 3},
			expected: "Commits: 12\nBranches: 3",
		},
		{
			name:     "zero counts of selected kinds are shown",
			kinds:    []domain.EntityKind{domain.KindIssue, domain.KindPullRequest},
			counts:   map[domain.EntityKind]int{domain.KindIssue: 4},
			expected: "Issues: 4\nPull Requests: 0",
		},
		{
			name:     "nothing found",
			kinds:    domain.AllKinds,
			counts:   map[domain.EntityKind]int{},
			expected: NoDataText,
		},
		{
			name:     "nothing selected",
			expected: NoDataText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StatusText(tt.kinds, tt.counts))
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Run("completed with a failing kind", func(t *testing.T) {
		out := &collector.Outcome{
			Repository: repo,
			Kinds:      []domain.EntityKind{domain.KindCommit, domain.KindBranch},
			Commits:    make([]domain.Commit, 2),
			Errors: map[domain.EntityKind]error{
				domain.KindBranch: &apperrors.AppError{Code: apperrors.ErrCodeRateLimited, Message: "all tokens have reached the limit"},
			},
		}

		s := Summarize(out)

		assert.Equal(t, domain.RunStatusCompleted, s.Status)
		assert.Equal(t, 2, s.Counts[domain.KindCommit])
		assert.Equal(t, "Commits: 2\nBranches: 0\nBranches: Request limit reached: all tokens have reached the limit", s.Text())
	})

	t.Run("every kind failed", func(t *testing.T) {
		out := &collector.Outcome{
			Kinds:  []domain.EntityKind{domain.KindCommit},
			Errors: map[domain.EntityKind]error{domain.KindCommit: errors.New("boom")},
		}

		s := Summarize(out)

		assert.Equal(t, domain.RunStatusFailed, s.Status)
		assert.Equal(t, "Unexpected error: boom", s.Errors[domain.KindCommit])
	})

	t.Run("stopped", func(t *testing.T) {
		out := &collector.Outcome{Kinds: domain.AllKinds, Stopped: true}

		s := Summarize(out)

		assert.Equal(t, domain.RunStatusStopped, s.Status)
		assert.Equal(t, NoDataText+"\nProcess stopped by the user.", s.Text())
	})
}

func TestAggregator_Activity(t *testing.T) {
	ctx := context.Background()
	store, err := jsonfile.NewJSONStorage(t.TempDir())
	require.NoError(t, err)

	at := func(m time.Month, d int) time.Time { return time.Date(2023, m, d, 15, 0, 0, 0, time.UTC) }
	_, err = store.SaveCommits(ctx, repo, []domain.Commit{
		{SHA: "a", AuthoredAt: at(1, 2)},
		{SHA: "b", AuthoredAt: at(1, 20)},
		{SHA: "c", AuthoredAt: at(3, 5)},
		{SHA: "d", AuthoredAt: at(6, 1)},
	})
	require.NoError(t, err)
	_, err = store.SaveIssues(ctx, repo, []domain.Issue{
		{Number: 1, Comments: []domain.Comment{{CreatedAt: at(2, 14)}}},
	})
	require.NoError(t, err)

	window, err := domain.NewDateWindow("2023-01-01", "2023-03-31")
	require.NoError(t, err)

	activity, err := NewAggregator(store).Activity(ctx, repo, window, domain.GranularityMonth)

	require.NoError(t, err)
	require.Len(t, activity.Points, 3)
	assert.Equal(t, 2, activity.Points[0].Commits)
	assert.Equal(t, 1, activity.Points[1].Issues)
	assert.Equal(t, 0, activity.Points[1].Commits)
	assert.Equal(t, 1, activity.Points[2].Commits)
	assert.Equal(t, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), activity.Points[1].Start)
}

func TestAggregator_Run(t *testing.T) {
	store, err := jsonfile.NewJSONStorage(t.TempDir())
	require.NoError(t, err)

	_, err = NewAggregator(store).Run(context.Background(), "missing")

	assert.True(t, apperrors.IsNotFound(err))
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, domain.GranularityDay, g)

	g, err = ParseGranularity("Week")
	require.NoError(t, err)
	assert.Equal(t, domain.GranularityWeek, g)

	_, err = ParseGranularity("year")
	assert.True(t, apperrors.IsBadRequest(err))
}
