package storage

import (
	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// ComputeStats builds repository stats from records held in memory
func ComputeStats(repo domain.Repository, commits []domain.Commit, issues []domain.Issue, prs []domain.PullRequest, branches []domain.Branch) *domain.RepositoryStats {
	stats := &domain.RepositoryStats{
		Repository: repo,
		Counts: map[domain.EntityKind]int{
			domain.KindCommit:      len(commits),
			domain.KindIssue:       len(issues),
			domain.KindPullRequest: len(prs),
			domain.KindBranch:      len(branches),
		},
	}

	authors := make(map[string]struct{})
	for _, c := range commits {
		authors[c.Author] = struct{}{}
		at := c.AuthoredAt
		if stats.FirstCommitAt == nil || at.Before(*stats.FirstCommitAt) {
			stats.FirstCommitAt = &at
		}
		if stats.LastCommitAt == nil || at.After(*stats.LastCommitAt) {
			stats.LastCommitAt = &at
		}
	}
	stats.Authors = len(authors)

	for _, issue := range issues {
		stats.Comments += len(issue.Comments)
	}
	for _, pr := range prs {
		stats.Comments += len(pr.Comments)
	}
	return stats
}
