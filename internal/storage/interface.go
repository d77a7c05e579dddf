package storage

import (
	"context"
	"errors"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// ErrRunNotFound is returned when a collection run does not exist
var ErrRunNotFound = errors.New("collection run not found")

// Storage is the abstract interface for the persistence layer.
// Record saves are insert-or-ignore on the natural key (commit SHA, issue
// or pull request number, branch name) so a repeated collection never
// duplicates or overwrites what is stored. Each save returns the number of
// records that were new.
type Storage interface {
	// Record operations
	SaveCommits(ctx context.Context, repo domain.Repository, commits []domain.Commit) (int, error)
	SaveIssues(ctx context.Context, repo domain.Repository, issues []domain.Issue) (int, error)
	SavePullRequests(ctx context.Context, repo domain.Repository, prs []domain.PullRequest) (int, error)
	SaveBranches(ctx context.Context, repo domain.Repository, branches []domain.Branch) (int, error)

	// Record retrieval
	GetCommits(ctx context.Context, repo domain.Repository) ([]domain.Commit, error)
	GetIssues(ctx context.Context, repo domain.Repository) ([]domain.Issue, error)
	GetPullRequests(ctx context.Context, repo domain.Repository) ([]domain.PullRequest, error)
	GetBranches(ctx context.Context, repo domain.Repository) ([]domain.Branch, error)

	// Collection run operations; SaveRun inserts or replaces by ID
	SaveRun(ctx context.Context, run *domain.CollectionRun) error
	GetRun(ctx context.Context, id string) (*domain.CollectionRun, error)
	ListRuns(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error)

	// Stats over stored records
	GetRepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
