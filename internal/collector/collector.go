package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// DefaultPerPage is the page size of bulk fetches
const DefaultPerPage = 35

// Collector defines the interface for collecting repository data
type Collector interface {
	// GetCommits retrieves commits authored inside the window
	GetCommits(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.Commit, error)

	// GetIssues retrieves issues created inside the window, with their threads
	GetIssues(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.Issue, error)

	// GetPullRequests retrieves pull requests created inside the window, with their threads
	GetPullRequests(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.PullRequest, error)

	// GetBranches retrieves all branches
	GetBranches(ctx context.Context, s *Session, repo domain.Repository) ([]domain.Branch, error)

	// Collect runs the selected kinds concurrently
	Collect(ctx context.Context, s *Session, params Params) *Outcome
}

// Params selects what Collect fetches
type Params struct {
	Repository domain.Repository
	Window     domain.DateWindow
	Kinds      []domain.EntityKind
}

// Outcome is the result of one Collect call. A kind listed in Errors either
// failed outright (no records) or came back short (some pages failed).
type Outcome struct {
	Repository   domain.Repository
	Window       domain.DateWindow
	Kinds        []domain.EntityKind
	Commits      []domain.Commit
	Issues       []domain.Issue
	PullRequests []domain.PullRequest
	Branches     []domain.Branch
	Errors       map[domain.EntityKind]error
	Stopped      bool
}

// Count returns the number of records collected for kind
func (o *Outcome) Count(kind domain.EntityKind) int {
	switch kind {
	case domain.KindCommit:
		return len(o.Commits)
	case domain.KindIssue:
		return len(o.Issues)
	case domain.KindPullRequest:
		return len(o.PullRequests)
	case domain.KindBranch:
		return len(o.Branches)
	default:
		return 0
	}
}

// Counts returns Count for every selected kind
func (o *Outcome) Counts() map[domain.EntityKind]int {
	counts := make(map[domain.EntityKind]int, len(o.Kinds))
	for _, kind := range o.Kinds {
		counts[kind] = o.Count(kind)
	}
	return counts
}

// Err joins the errors of all kinds, in kind order
func (o *Outcome) Err() error {
	var errs []error
	for _, kind := range o.Kinds {
		if err := o.Errors[kind]; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options configures the GitHub collector
type Options struct {
	PerPage           int
	Workers           int
	LowLimitThreshold int
	Logger            logrus.FieldLogger
}

// githubCollector implements Collector using the GitHub REST API
type githubCollector struct {
	fetcher  *Fetcher
	planner  *Planner
	pages    *PageCollector
	enricher *Enricher
	perPage  int
	workers  int
	log      logrus.FieldLogger
}

// NewGitHubCollector creates a new GitHub collector
func NewGitHubCollector(opts Options) Collector {
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPerPage
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.LowLimitThreshold <= 0 {
		opts.LowLimitThreshold = LowLimitThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	fetcher := NewFetcher(opts.LowLimitThreshold, opts.Logger)
	planner := NewPlanner(fetcher)
	pages := NewPageCollector(fetcher, opts.Workers, opts.Logger)
	return &githubCollector{
		fetcher:  fetcher,
		planner:  planner,
		pages:    pages,
		enricher: NewEnricher(planner, pages, opts.PerPage, opts.Logger),
		perPage:  opts.PerPage,
		workers:  opts.Workers,
		log:      opts.Logger,
	}
}

func resourceRequest(repo domain.Repository, resource string, query url.Values) FetchRequest {
	if query == nil {
		query = url.Values{}
	}
	return FetchRequest{
		Path:  fmt.Sprintf("repos/%s/%s/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), resource),
		Query: query,
	}
}

func windowQuery(window domain.DateWindow) url.Values {
	return url.Values{
		"since": {window.SinceParam()},
		"until": {window.UntilParam()},
	}
}

// threadQuery lists every state newest first, so created_at is descending
func threadQuery(window domain.DateWindow) url.Values {
	q := windowQuery(window)
	q.Set("state", "all")
	q.Set("sort", "created")
	q.Set("direction", "desc")
	return q
}

// fetchAll plans and collects every page of one resource. A planning
// failure aborts the resource; page failures come back with the entities
// of the pages that did succeed.
func (c *githubCollector) fetchAll(ctx context.Context, s *Session, kind domain.EntityKind, req FetchRequest, filter *DateFilter) ([]Payload, error) {
	log := c.log.WithFields(logrus.Fields{"kind": kind, "path": req.Path, "session": s.ID})
	req = req.With("per_page", strconv.Itoa(c.perPage))

	total, err := c.planner.TotalPages(ctx, s, req, c.perPage)
	if err != nil {
		log.WithError(err).Error("Failed to determine page count")
		return nil, fmt.Errorf("fetching %s: %w", kind, err)
	}
	log.WithField("pages", total).Info("Fetching pages")

	items, err := c.pages.Collect(ctx, s, req, total, filter)
	if err != nil {
		err = fmt.Errorf("fetching %s: %w", kind, err)
	}
	if len(items) == 0 {
		log.Info("No data found in the given date range")
	}
	return items, err
}

// GetCommits retrieves commits for a repository
func (c *githubCollector) GetCommits(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.Commit, error) {
	req := resourceRequest(repo, "commits", windowQuery(window))
	filter := &DateFilter{Window: window, Field: []string{"commit", "author", "date"}}

	items, err := c.fetchAll(ctx, s, domain.KindCommit, req, filter)
	return normalizeAll(items, NormalizeCommit), err
}

// GetIssues retrieves issues for a repository
func (c *githubCollector) GetIssues(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.Issue, error) {
	req := resourceRequest(repo, "issues", threadQuery(window))
	filter := &DateFilter{Window: window, Field: []string{"created_at"}, ReverseChronological: true}

	items, err := c.fetchAll(ctx, s, domain.KindIssue, req, filter)

	var issues []domain.Issue
	var urls []string
	for _, item := range items {
		issue, ok := NormalizeIssue(item)
		if !ok {
			continue
		}
		commentsURL, _ := item.String("comments_url")
		issues = append(issues, issue)
		urls = append(urls, commentsURL)
	}

	c.enrichAll(ctx, s, len(issues), func(i int) {
		issues[i].Comments = c.enricher.Enrich(ctx, s, urls[i], issues[i].Comments[0])
	})
	return issues, err
}

// GetPullRequests retrieves pull requests for a repository
func (c *githubCollector) GetPullRequests(ctx context.Context, s *Session, repo domain.Repository, window domain.DateWindow) ([]domain.PullRequest, error) {
	req := resourceRequest(repo, "pulls", threadQuery(window))
	filter := &DateFilter{Window: window, Field: []string{"created_at"}, ReverseChronological: true}

	items, err := c.fetchAll(ctx, s, domain.KindPullRequest, req, filter)

	var prs []domain.PullRequest
	var urls []string
	for _, item := range items {
		pr, ok := NormalizePullRequest(item)
		if !ok {
			continue
		}
		commentsURL, _ := item.String("_links", "comments", "href")
		prs = append(prs, pr)
		urls = append(urls, commentsURL)
	}

	c.enrichAll(ctx, s, len(prs), func(i int) {
		prs[i].Comments = c.enricher.Enrich(ctx, s, urls[i], prs[i].Comments[0])
	})
	return prs, err
}

// GetBranches retrieves branches for a repository. Branch listings carry
// no dates, so there is no window.
func (c *githubCollector) GetBranches(ctx context.Context, s *Session, repo domain.Repository) ([]domain.Branch, error) {
	req := resourceRequest(repo, "branches", nil)

	items, err := c.fetchAll(ctx, s, domain.KindBranch, req, nil)
	return normalizeAll(items, NormalizeBranch), err
}

// enrichAll runs fn(0..n-1) on the worker pool. Threads not started before
// the session stops keep only their opening message.
func (c *githubCollector) enrichAll(ctx context.Context, s *Session, n int, fn func(i int)) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, c.workers)

	for i := 0; i < n; i++ {
		if s.halted(ctx) {
			break
		}
		semaphore <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

// Collect runs every selected kind in its own goroutine. The stop flag is
// checked before each kind is started.
func (c *githubCollector) Collect(ctx context.Context, s *Session, params Params) *Outcome {
	kinds := uniqueKinds(params.Kinds)
	out := &Outcome{
		Repository: params.Repository,
		Window:     params.Window,
		Kinds:      kinds,
		Errors:     make(map[domain.EntityKind]error),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	setErr := func(kind domain.EntityKind, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		out.Errors[kind] = err
		mu.Unlock()
	}

	for _, kind := range kinds {
		if s.halted(ctx) {
			c.log.WithField("kind", kind).Info("Process stopped by the user")
			break
		}

		wg.Add(1)
		go func(kind domain.EntityKind) {
			defer wg.Done()

			var err error
			switch kind {
			case domain.KindCommit:
				out.Commits, err = c.GetCommits(ctx, s, params.Repository, params.Window)
			case domain.KindIssue:
				out.Issues, err = c.GetIssues(ctx, s, params.Repository, params.Window)
			case domain.KindPullRequest:
				out.PullRequests, err = c.GetPullRequests(ctx, s, params.Repository, params.Window)
			case domain.KindBranch:
				out.Branches, err = c.GetBranches(ctx, s, params.Repository)
			default:
				err = fmt.Errorf("unknown entity kind %q", kind)
			}
			setErr(kind, err)
		}(kind)
	}

	wg.Wait()
	out.Stopped = s.Stopped()
	return out
}

func uniqueKinds(kinds []domain.EntityKind) []domain.EntityKind {
	seen := make(map[domain.EntityKind]bool, len(kinds))
	out := make([]domain.EntityKind, 0, len(kinds))
	for _, kind := range kinds {
		if !seen[kind] {
			seen[kind] = true
			out = append(out, kind)
		}
	}
	return out
}
