package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite.
// Every repository shares the same tables, keyed by (owner, repo, natural key).
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS commits (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		sha TEXT NOT NULL,
		message TEXT NOT NULL,
		date TIMESTAMP NOT NULL,
		author TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, repo, sha)
	);

	CREATE INDEX IF NOT EXISTS idx_commits_date ON commits(owner, repo, date);

	CREATE TABLE IF NOT EXISTS issues (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		creator TEXT NOT NULL,
		comments TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, repo, number)
	);

	CREATE TABLE IF NOT EXISTS pull_requests (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		creator TEXT NOT NULL,
		comments TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, repo, number)
	);

	CREATE TABLE IF NOT EXISTS branches (
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		name TEXT NOT NULL,
		sha TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, repo, name)
	);

	CREATE TABLE IF NOT EXISTS collection_runs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		kinds TEXT NOT NULL,
		status TEXT NOT NULL,
		counts TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collection_runs_repo ON collection_runs(owner, repo, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// insertAll runs query once per row inside a transaction and returns the
// number of rows actually inserted
func (s *sqliteStorage) insertAll(ctx context.Context, query string, n int, args func(i int) ([]any, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for i := 0; i < n; i++ {
		values, err := args(i)
		if err != nil {
			return 0, err
		}
		result, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return 0, err
		}
		affected, _ := result.RowsAffected()
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// SaveCommits stores commits, ignoring SHAs already present
func (s *sqliteStorage) SaveCommits(ctx context.Context, repo domain.Repository, commits []domain.Commit) (int, error) {
	return s.insertAll(ctx, `
		INSERT OR IGNORE INTO commits (owner, repo, sha, message, date, author)
		VALUES (?, ?, ?, ?, ?, ?)
	`, len(commits), func(i int) ([]any, error) {
		c := commits[i]
		return []any{repo.Owner, repo.Name, c.SHA, c.Message, c.AuthoredAt.UTC(), c.Author}, nil
	})
}

// SaveIssues stores issues with their threads, ignoring numbers already present
func (s *sqliteStorage) SaveIssues(ctx context.Context, repo domain.Repository, issues []domain.Issue) (int, error) {
	return s.insertAll(ctx, `
		INSERT OR IGNORE INTO issues (owner, repo, number, title, state, creator, comments)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(issues), func(i int) ([]any, error) {
		issue := issues[i]
		comments, err := storage.EncodeComments(issue.Comments)
		if err != nil {
			return nil, err
		}
		return []any{repo.Owner, repo.Name, issue.Number, issue.Title, issue.State, issue.Creator, comments}, nil
	})
}

// SavePullRequests stores pull requests with their threads, ignoring numbers already present
func (s *sqliteStorage) SavePullRequests(ctx context.Context, repo domain.Repository, prs []domain.PullRequest) (int, error) {
	return s.insertAll(ctx, `
		INSERT OR IGNORE INTO pull_requests (owner, repo, number, title, state, creator, comments)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(prs), func(i int) ([]any, error) {
		pr := prs[i]
		comments, err := storage.EncodeComments(pr.Comments)
		if err != nil {
			return nil, err
		}
		return []any{repo.Owner, repo.Name, pr.Number, pr.Title, pr.State, pr.Creator, comments}, nil
	})
}

// SaveBranches stores branches, ignoring names already present
func (s *sqliteStorage) SaveBranches(ctx context.Context, repo domain.Repository, branches []domain.Branch) (int, error) {
	return s.insertAll(ctx, `
		INSERT OR IGNORE INTO branches (owner, repo, name, sha)
		VALUES (?, ?, ?, ?)
	`, len(branches), func(i int) ([]any, error) {
		b := branches[i]
		return []any{repo.Owner, repo.Name, b.Name, b.HeadSHA}, nil
	})
}

// GetCommits retrieves stored commits, newest first
func (s *sqliteStorage) GetCommits(ctx context.Context, repo domain.Repository) ([]domain.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sha, message, date, author FROM commits
		WHERE owner = ? AND repo = ?
		ORDER BY date DESC
	`, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []domain.Commit
	for rows.Next() {
		var c domain.Commit
		if err := rows.Scan(&c.SHA, &c.Message, &c.AuthoredAt, &c.Author); err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

type threadRow struct {
	Number   int
	Title    string
	State    string
	Creator  string
	Comments []domain.Comment
}

func (s *sqliteStorage) getThreads(ctx context.Context, table string, repo domain.Repository) ([]threadRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT number, title, state, creator, comments FROM %s
		WHERE owner = ? AND repo = ?
		ORDER BY number DESC
	`, table), repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []threadRow
	for rows.Next() {
		var t threadRow
		var comments string
		if err := rows.Scan(&t.Number, &t.Title, &t.State, &t.Creator, &comments); err != nil {
			return nil, err
		}
		if t.Comments, err = storage.DecodeComments(comments); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// GetIssues retrieves stored issues, highest number first
func (s *sqliteStorage) GetIssues(ctx context.Context, repo domain.Repository) ([]domain.Issue, error) {
	threads, err := s.getThreads(ctx, "issues", repo)
	if err != nil {
		return nil, err
	}
	issues := make([]domain.Issue, len(threads))
	for i, t := range threads {
		issues[i] = domain.Issue(t)
	}
	return issues, nil
}

// GetPullRequests retrieves stored pull requests, highest number first
func (s *sqliteStorage) GetPullRequests(ctx context.Context, repo domain.Repository) ([]domain.PullRequest, error) {
	threads, err := s.getThreads(ctx, "pull_requests", repo)
	if err != nil {
		return nil, err
	}
	prs := make([]domain.PullRequest, len(threads))
	for i, t := range threads {
		prs[i] = domain.PullRequest(t)
	}
	return prs, nil
}

// GetBranches retrieves stored branches by name
func (s *sqliteStorage) GetBranches(ctx context.Context, repo domain.Repository) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, sha FROM branches
		WHERE owner = ? AND repo = ?
		ORDER BY name
	`, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []domain.Branch
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.Name, &b.HeadSHA); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// SaveRun inserts or replaces a collection run
func (s *sqliteStorage) SaveRun(ctx context.Context, run *domain.CollectionRun) error {
	counts, err := storage.EncodeCounts(run.Counts)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_runs (id, owner, repo, start_date, end_date, kinds, status, counts, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			counts = excluded.counts,
			error = excluded.error,
			updated_at = excluded.updated_at
	`,
		run.ID,
		run.Repository.Owner,
		run.Repository.Name,
		run.Window.Start.Format(domain.DateLayout),
		run.Window.End.Format(domain.DateLayout),
		storage.EncodeKinds(run.Kinds),
		string(run.Status),
		counts,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

const runColumns = `id, owner, repo, start_date, end_date, kinds, status, counts, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.CollectionRun, error) {
	var run domain.CollectionRun
	var start, end, kinds, status, counts string
	err := row.Scan(
		&run.ID, &run.Repository.Owner, &run.Repository.Name,
		&start, &end, &kinds, &status, &counts, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if run.Window, err = storage.RunWindow(start, end); err != nil {
		return nil, err
	}
	if run.Counts, err = storage.DecodeCounts(counts); err != nil {
		return nil, err
	}
	run.Kinds = storage.DecodeKinds(kinds)
	run.Status = domain.RunStatus(status)
	return &run, nil
}

// GetRun retrieves a collection run by ID
func (s *sqliteStorage) GetRun(ctx context.Context, id string) (*domain.CollectionRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM collection_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the latest runs of a repository, newest first
func (s *sqliteStorage) ListRuns(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM collection_runs
		WHERE owner = ? AND repo = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, repo.Owner, repo.Name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.CollectionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRepositoryStats summarizes stored records of a repository
func (s *sqliteStorage) GetRepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error) {
	stats := &domain.RepositoryStats{
		Repository: repo,
		Counts:     make(map[domain.EntityKind]int, len(domain.AllKinds)),
	}

	tables := map[domain.EntityKind]string{
		domain.KindCommit:      "commits",
		domain.KindIssue:       "issues",
		domain.KindPullRequest: "pull_requests",
		domain.KindBranch:      "branches",
	}
	for kind, table := range tables {
		var n int
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE owner = ? AND repo = ?`, table),
			repo.Owner, repo.Name).Scan(&n)
		if err != nil {
			return nil, err
		}
		stats.Counts[kind] = n
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(json_array_length(comments)), 0) FROM issues WHERE owner = ? AND repo = ?) +
			(SELECT COALESCE(SUM(json_array_length(comments)), 0) FROM pull_requests WHERE owner = ? AND repo = ?)
	`, repo.Owner, repo.Name, repo.Owner, repo.Name).Scan(&stats.Comments)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT author) FROM commits WHERE owner = ? AND repo = ?`,
		repo.Owner, repo.Name).Scan(&stats.Authors)
	if err != nil {
		return nil, err
	}

	if stats.Counts[domain.KindCommit] > 0 {
		// ORDER BY keeps the declared column type so the driver parses the timestamp
		var first, last time.Time
		if err := s.db.QueryRowContext(ctx, `SELECT date FROM commits WHERE owner = ? AND repo = ? ORDER BY date ASC LIMIT 1`,
			repo.Owner, repo.Name).Scan(&first); err != nil {
			return nil, err
		}
		if err := s.db.QueryRowContext(ctx, `SELECT date FROM commits WHERE owner = ? AND repo = ? ORDER BY date DESC LIMIT 1`,
			repo.Owner, repo.Name).Scan(&last); err != nil {
			return nil, err
		}
		stats.FirstCommitAt, stats.LastCommitAt = &first, &last
	}

	runs, err := s.ListRuns(ctx, repo, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		stats.LastRun = runs[0]
	}

	return stats, nil
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
