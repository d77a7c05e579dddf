package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL.
// Each repository gets its own schema holding commits, issues,
// pull_requests and branches; collection runs live in the public schema.
type postgresStorage struct {
	db *sql.DB

	mu      sync.Mutex
	schemas map[string]bool
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db, schemas: make(map[string]bool)}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// SchemaName returns the schema holding the records of repo: "owner_name"
// with dashes replaced by underscores
func SchemaName(repo domain.Repository) string {
	name := repo.Owner + "_" + repo.Name
	return strings.NewReplacer("-", "_", "/", "_", ".", "_").Replace(name)
}

// Migrate runs database migrations. Repository schemas are created on first write.
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_runs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		kinds TEXT[] NOT NULL,
		status TEXT NOT NULL,
		counts JSONB NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_collection_runs_repo ON collection_runs(owner, repo, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// ensureSchema creates the schema and record tables of repo once per process
func (s *postgresStorage) ensureSchema(ctx context.Context, repo domain.Repository) (string, error) {
	name := SchemaName(repo)
	quoted := pq.QuoteIdentifier(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemas[name] {
		return quoted, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + quoted,
		`CREATE TABLE IF NOT EXISTS ` + quoted + `.commits (
			sha VARCHAR(255) PRIMARY KEY,
			message TEXT,
			date TIMESTAMP,
			author VARCHAR(255)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + quoted + `.issues (
			number INTEGER PRIMARY KEY,
			title TEXT,
			state VARCHAR(50),
			creator VARCHAR(255),
			comments JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS ` + quoted + `.pull_requests (
			number INTEGER PRIMARY KEY,
			title TEXT,
			state VARCHAR(50),
			creator VARCHAR(255),
			comments JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS ` + quoted + `.branches (
			name VARCHAR(255) PRIMARY KEY,
			sha VARCHAR(255)
		)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("creating schema %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.schemas[name] = true
	return quoted, nil
}

// schemaExists reports whether records were ever written for repo
func (s *postgresStorage) schemaExists(ctx context.Context, repo domain.Repository) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)
	`, SchemaName(repo)).Scan(&exists)
	return exists, err
}

func (s *postgresStorage) insertAll(ctx context.Context, repo domain.Repository, query string, n int, args func(i int) ([]any, error)) (int, error) {
	if n == 0 {
		return 0, nil
	}
	schema, err := s.ensureSchema(ctx, repo)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(query, schema))
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
func (s *postgresStorage) SaveCommits(ctx context.Context, repo domain.Repository, commits []domain.Commit) (int, error) {
	return s.insertAll(ctx, repo, `
		INSERT INTO %s.commits (sha, message, date, author)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sha) DO NOTHING
	`, len(commits), func(i int) ([]any, error) {
		c := commits[i]
		return []any{c.SHA, c.Message, c.AuthoredAt.UTC(), c.Author}, nil
	})
}

func (s *postgresStorage) saveThreads(ctx context.Context, repo domain.Repository, table string, n int, row func(i int) (int, string, string, string, []domain.Comment)) (int, error) {
	return s.insertAll(ctx, repo, `
		INSERT INTO %s.`+table+` (number, title, state, creator, comments)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (number) DO NOTHING
	`, n, func(i int) ([]any, error) {
		number, title, state, creator, thread := row(i)
		comments, err := storage.EncodeComments(thread)
		if err != nil {
			return nil, err
		}
		return []any{number, title, state, creator, comments}, nil
	})
}

// SaveIssues stores issues with their threads, ignoring numbers already present
func (s *postgresStorage) SaveIssues(ctx context.Context, repo domain.Repository, issues []domain.Issue) (int, error) {
	return s.saveThreads(ctx, repo, "issues", len(issues), func(i int) (int, string, string, string, []domain.Comment) {
		is := issues[i]
		return is.Number, is.Title, is.State, is.Creator, is.Comments
	})
}

// SavePullRequests stores pull requests with their threads, ignoring numbers already present
func (s *postgresStorage) SavePullRequests(ctx context.Context, repo domain.Repository, prs []domain.PullRequest) (int, error) {
	return s.saveThreads(ctx, repo, "pull_requests", len(prs), func(i int) (int, string, string, string, []domain.Comment) {
		pr := prs[i]
		return pr.Number, pr.Title, pr.State, pr.Creator, pr.Comments
	})
}

// SaveBranches stores branches, ignoring names already present
func (s *postgresStorage) SaveBranches(ctx context.Context, repo domain.Repository, branches []domain.Branch) (int, error) {
	return s.insertAll(ctx, repo, `
		INSERT INTO %s.branches (name, sha)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, len(branches), func(i int) ([]any, error) {
		return []any{branches[i].Name, branches[i].HeadSHA}, nil
	})
}

// GetCommits retrieves stored commits, newest first
func (s *postgresStorage) GetCommits(ctx context.Context, repo domain.Repository) ([]domain.Commit, error) {
	exists, err := s.schemaExists(ctx, repo)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT sha, COALESCE(message, ''), date, COALESCE(author, '') FROM %s.commits
		ORDER BY date DESC
	`, pq.QuoteIdentifier(SchemaName(repo))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []domain.Commit
	for rows.Next() {
		var c domain.Commit
		var date sql.NullTime
		if err := rows.Scan(&c.SHA, &c.Message, &date, &c.Author); err != nil {
			return nil, err
		}
		c.AuthoredAt = date.Time
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *postgresStorage) getThreads(ctx context.Context, repo domain.Repository, table string, each func(number int, title, state, creator string, comments []domain.Comment)) error {
	exists, err := s.schemaExists(ctx, repo)
	if err != nil || !exists {
		return err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT number, COALESCE(title, ''), COALESCE(state, ''), COALESCE(creator, ''), COALESCE(comments, '[]'::jsonb)
		FROM %s.%s
		ORDER BY number DESC
	`, pq.QuoteIdentifier(SchemaName(repo)), table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var number int
		var title, state, creator, raw string
		if err := rows.Scan(&number, &title, &state, &creator, &raw); err != nil {
			return err
		}
		comments, err := storage.DecodeComments(raw)
		if err != nil {
			return err
		}
		each(number, title, state, creator, comments)
	}
	return rows.Err()
}

// GetIssues retrieves stored issues, highest number first
func (s *postgresStorage) GetIssues(ctx context.Context, repo domain.Repository) ([]domain.Issue, error) {
	var issues []domain.Issue
	err := s.getThreads(ctx, repo, "issues", func(number int, title, state, creator string, comments []domain.Comment) {
		issues = append(issues, domain.Issue{Number: number, Title: title, State: state, Creator: creator, Comments: comments})
	})
	return issues, err
}

// GetPullRequests retrieves stored pull requests, highest number first
func (s *postgresStorage) GetPullRequests(ctx context.Context, repo domain.Repository) ([]domain.PullRequest, error) {
	var prs []domain.PullRequest
	err := s.getThreads(ctx, repo, "pull_requests", func(number int, title, state, creator string, comments []domain.Comment) {
		prs = append(prs, domain.PullRequest{Number: number, Title: title, State: state, Creator: creator, Comments: comments})
	})
	return prs, err
}

// GetBranches retrieves stored branches by name
func (s *postgresStorage) GetBranches(ctx context.Context, repo domain.Repository) ([]domain.Branch, error) {
	exists, err := s.schemaExists(ctx, repo)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT name, COALESCE(sha, '') FROM %s.branches ORDER BY name
	`, pq.QuoteIdentifier(SchemaName(repo))))
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
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.CollectionRun) error {
	counts, err := storage.EncodeCounts(run.Counts)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	kinds := make([]string, len(run.Kinds))
	for i, k := range run.Kinds {
		kinds[i] = string(k)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_runs (id, owner, repo, start_date, end_date, kinds, status, counts, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			counts = EXCLUDED.counts,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at
	`,
		run.ID,
		run.Repository.Owner,
		run.Repository.Name,
		run.Window.Start.Format(domain.DateLayout),
		run.Window.End.Format(domain.DateLayout),
		pq.Array(kinds),
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
	var start, end, status, counts string
	var kinds pq.StringArray
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
	for _, k := range kinds {
		run.Kinds = append(run.Kinds, domain.EntityKind(k))
	}
	run.Status = domain.RunStatus(status)
	return &run, nil
}

// GetRun retrieves a collection run by ID
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.CollectionRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM collection_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the latest runs of a repository, newest first
func (s *postgresStorage) ListRuns(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM collection_runs
		WHERE owner = $1 AND repo = $2
		ORDER BY created_at DESC
		LIMIT $3
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
func (s *postgresStorage) GetRepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error) {
	stats := &domain.RepositoryStats{
		Repository: repo,
		Counts: map[domain.EntityKind]int{
			domain.KindCommit:      0,
			domain.KindIssue:       0,
			domain.KindPullRequest: 0,
			domain.KindBranch:      0,
		},
	}

	exists, err := s.schemaExists(ctx, repo)
	if err != nil {
		return nil, err
	}
	if exists {
		schema := pq.QuoteIdentifier(SchemaName(repo))
		var commits, issues, prs, branches, comments, authors int
		var first, last sql.NullTime
		err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT
				(SELECT COUNT(*) FROM %[1]s.commits),
				(SELECT COUNT(*) FROM %[1]s.issues),
				(SELECT COUNT(*) FROM %[1]s.pull_requests),
				(SELECT COUNT(*) FROM %[1]s.branches),
				(SELECT COALESCE(SUM(jsonb_array_length(comments)), 0) FROM %[1]s.issues) +
				(SELECT COALESCE(SUM(jsonb_array_length(comments)), 0) FROM %[1]s.pull_requests),
				(SELECT COUNT(DISTINCT author) FROM %[1]s.commits),
				(SELECT MIN(date) FROM %[1]s.commits),
				(SELECT MAX(date) FROM %[1]s.commits)
		`, schema)).Scan(&commits, &issues, &prs, &branches, &comments, &authors, &first, &last)
		if err != nil {
			return nil, err
		}
		stats.Counts[domain.KindCommit] = commits
		stats.Counts[domain.KindIssue] = issues
		stats.Counts[domain.KindPullRequest] = prs
		stats.Counts[domain.KindBranch] = branches
		stats.Comments = comments
		stats.Authors = authors
		if first.Valid {
			stats.FirstCommitAt = &first.Time
		}
		if last.Valid {
			stats.LastCommitAt = &last.Time
		}
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
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
