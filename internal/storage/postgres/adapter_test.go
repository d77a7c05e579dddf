package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

func TestSchemaName(t *testing.T) {
	tests := []struct {
		repo     domain.Repository
		expected string
	}{
		{domain.Repository{Owner: "octo", Name: "hello"}, "octo_hello"},
		{domain.Repository{Owner: "my-org", Name: "my-repo"}, "my_org_my_repo"},
		{domain.Repository{Owner: "octo", Name: "site.github.io"}, "octo_site_github_io"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, SchemaName(tt.repo))
		})
	}
}

// TestPostgresStorage_Integration runs against a live database when
// POSTGRES_TEST_URL is set
func TestPostgresStorage_Integration(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStorage(url)
	require.NoError(t, err)
	defer s.Close()

	repo := domain.Repository{Owner: "harvest-test", Name: uuid.New().String()[:8]}
	commits := []domain.Commit{{SHA: "a1", Message: "m", AuthoredAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), Author: "ann"}}

	n, err := s.SaveCommits(ctx, repo, commits)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.SaveCommits(ctx, repo, commits)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.SaveIssues(ctx, repo, []domain.Issue{{Number: 1, Title: "t", State: "open", Creator: "ann",
		Comments: []domain.Comment{{Author: "ann", Body: "Bug here"}}}})
	require.NoError(t, err)

	stats, err := s.GetRepositoryStats(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[domain.KindCommit])
	assert.Equal(t, 1, stats.Comments)
}
