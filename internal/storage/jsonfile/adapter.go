package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
)

const runsFile = "harvest_runs.json"

// fileData is the layout of one {owner}_{repo}_data.json file
type fileData struct {
	Commits      []domain.Commit      `json:"commits,omitempty"`
	Issues       []domain.Issue       `json:"issues,omitempty"`
	PullRequests []domain.PullRequest `json:"pull_requests,omitempty"`
	Branches     []domain.Branch      `json:"branches,omitempty"`
}

// jsonStorage implements the Storage interface with one JSON document per
// repository. New records are merged into the existing document by natural key.
type jsonStorage struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStorage creates a storage writing into dir
func NewJSONStorage(dir string) (storage.Storage, error) {
	if dir == "" {
		dir = "."
	}
	s := &jsonStorage{dir: dir}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// FileName returns the data file name of repo
func FileName(repo domain.Repository) string {
	return fmt.Sprintf("%s_%s_data.json", repo.Owner, repo.Name)
}

// Migrate makes sure the output directory exists
func (s *jsonStorage) Migrate(ctx context.Context) error {
	return os.MkdirAll(s.dir, 0o755)
}

func (s *jsonStorage) readJSON(name string, v any) error {
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces name through a temporary file so readers never see a partial document
func (s *jsonStorage) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// update applies fn to the document of repo and writes it back if fn added anything
func (s *jsonStorage) update(repo domain.Repository, fn func(*fileData) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data fileData
	if err := s.readJSON(FileName(repo), &data); err != nil {
		return 0, err
	}
	added := fn(&data)
	if added == 0 {
		return 0, nil
	}
	return added, s.writeJSON(FileName(repo), &data)
}

func (s *jsonStorage) load(repo domain.Repository) (fileData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data fileData
	err := s.readJSON(FileName(repo), &data)
	return data, err
}

// merge appends the items of incoming whose key is not yet in existing
func merge[T any, K comparable](existing, incoming []T, key func(T) K) ([]T, int) {
	seen := make(map[K]bool, len(existing))
	for _, item := range existing {
		seen[key(item)] = true
	}
	added := 0
	for _, item := range incoming {
		k := key(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		existing = append(existing, item)
		added++
	}
	return existing, added
}

// SaveCommits merges commits by SHA
func (s *jsonStorage) SaveCommits(ctx context.Context, repo domain.Repository, commits []domain.Commit) (int, error) {
	return s.update(repo, func(d *fileData) int {
		var n int
		d.Commits, n = merge(d.Commits, commits, func(c domain.Commit) string { return c.SHA })
		return n
	})
}

// SaveIssues merges issues by number
func (s *jsonStorage) SaveIssues(ctx context.Context, repo domain.Repository, issues []domain.Issue) (int, error) {
	return s.update(repo, func(d *fileData) int {
		var n int
		d.Issues, n = merge(d.Issues, issues, func(i domain.Issue) int { return i.Number })
		return n
	})
}

// SavePullRequests merges pull requests by number
func (s *jsonStorage) SavePullRequests(ctx context.Context, repo domain.Repository, prs []domain.PullRequest) (int, error) {
	return s.update(repo, func(d *fileData) int {
		var n int
		d.PullRequests, n = merge(d.PullRequests, prs, func(p domain.PullRequest) int { return p.Number })
		return n
	})
}

// SaveBranches merges branches by name
func (s *jsonStorage) SaveBranches(ctx context.Context, repo domain.Repository, branches []domain.Branch) (int, error) {
	return s.update(repo, func(d *fileData) int {
		var n int
		d.Branches, n = merge(d.Branches, branches, func(b domain.Branch) string { return b.Name })
		return n
	})
}

// GetCommits returns stored commits in file order
func (s *jsonStorage) GetCommits(ctx context.Context, repo domain.Repository) ([]domain.Commit, error) {
	data, err := s.load(repo)
	return data.Commits, err
}

// GetIssues returns stored issues in file order
func (s *jsonStorage) GetIssues(ctx context.Context, repo domain.Repository) ([]domain.Issue, error) {
	data, err := s.load(repo)
	return data.Issues, err
}

// GetPullRequests returns stored pull requests in file order
func (s *jsonStorage) GetPullRequests(ctx context.Context, repo domain.Repository) ([]domain.PullRequest, error) {
	data, err := s.load(repo)
	return data.PullRequests, err
}

// GetBranches returns stored branches in file order
func (s *jsonStorage) GetBranches(ctx context.Context, repo domain.Repository) ([]domain.Branch, error) {
	data, err := s.load(repo)
	return data.Branches, err
}

// SaveRun inserts or replaces a run in the runs file
func (s *jsonStorage) SaveRun(ctx context.Context, run *domain.CollectionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*domain.CollectionRun
	if err := s.readJSON(runsFile, &runs); err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	i := slices.IndexFunc(runs, func(r *domain.CollectionRun) bool { return r.ID == run.ID })
	if i >= 0 {
		runs[i] = run
	} else {
		runs = append(runs, run)
	}
	return s.writeJSON(runsFile, runs)
}

func (s *jsonStorage) loadRuns() ([]*domain.CollectionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []*domain.CollectionRun
	err := s.readJSON(runsFile, &runs)
	return runs, err
}

// GetRun retrieves a run by ID
func (s *jsonStorage) GetRun(ctx context.Context, id string) (*domain.CollectionRun, error) {
	runs, err := s.loadRuns()
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, storage.ErrRunNotFound
}

// ListRuns returns the latest runs of a repository, newest first
func (s *jsonStorage) ListRuns(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.loadRuns()
	if err != nil {
		return nil, err
	}

	var out []*domain.CollectionRun
	for _, run := range runs {
		if run.Repository == repo {
			out = append(out, run)
		}
	}
	slices.SortStableFunc(out, func(a, b *domain.CollectionRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetRepositoryStats summarizes the document of repo
func (s *jsonStorage) GetRepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error) {
	data, err := s.load(repo)
	if err != nil {
		return nil, err
	}
	stats := storage.ComputeStats(repo, data.Commits, data.Issues, data.PullRequests, data.Branches)

	runs, err := s.ListRuns(ctx, repo, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		stats.LastRun = runs[0]
	}
	return stats, nil
}

// Close is a no-op; every write is flushed immediately
func (s *jsonStorage) Close() error {
	return nil
}
