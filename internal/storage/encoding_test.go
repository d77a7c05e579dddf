package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

func TestKindsEncoding(t *testing.T) {
	kinds := []domain.EntityKind{domain.KindIssue, domain.KindBranch}

	assert.Equal(t, "issues,branches", EncodeKinds(kinds))
	assert.Equal(t, kinds, DecodeKinds("issues,branches"))
	assert.Nil(t, DecodeKinds(""))
}

func TestCountsEncoding(t *testing.T) {
	s, err := EncodeCounts(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	counts, err := DecodeCounts(`{"commits":3}`)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.KindCommit])

	_, err = DecodeCounts("{")
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	repo := domain.Repository{Owner: "o", Name: "r"}
	jan := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	stats := ComputeStats(repo,
		[]domain.Commit{{SHA: "b", AuthoredAt: mar, Author: "ann"}, {SHA: "a", AuthoredAt: jan, Author: "ann"}},
		[]domain.Issue{{Number: 1, Comments: make([]domain.Comment, 3)}},
		nil,
		[]domain.Branch{{Name: "main"}},
	)

	assert.Equal(t, 2, stats.Counts[domain.KindCommit])
	assert.Equal(t, 0, stats.Counts[domain.KindPullRequest])
	assert.Equal(t, 1, stats.Counts[domain.KindBranch])
	assert.Equal(t, 3, stats.Comments)
	assert.Equal(t, 1, stats.Authors)
	assert.Equal(t, jan, *stats.FirstCommitAt)
	assert.Equal(t, mar, *stats.LastCommitAt)
}
