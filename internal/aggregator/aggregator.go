package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
)

// NoDataText is the status text of a collection that found nothing
const NoDataText = "No data found for the given date range."

// Aggregator defines the interface for reading back collected data
type Aggregator interface {
	// RepositoryStats summarizes stored records of a repository
	RepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error)

	// Activity buckets stored records by creation date
	Activity(ctx context.Context, repo domain.Repository, window domain.DateWindow, granularity domain.Granularity) (*domain.Activity, error)

	// Runs lists the latest collection runs of a repository
	Runs(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error)

	// Run retrieves one collection run
	Run(ctx context.Context, id string) (*domain.CollectionRun, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// RepositoryStats summarizes stored records of a repository
func (a *aggregator) RepositoryStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error) {
	return a.storage.GetRepositoryStats(ctx, repo)
}

// Runs lists the latest collection runs of a repository
func (a *aggregator) Runs(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error) {
	return a.storage.ListRuns(ctx, repo, limit)
}

// Run retrieves one collection run
func (a *aggregator) Run(ctx context.Context, id string) (*domain.CollectionRun, error) {
	run, err := a.storage.GetRun(ctx, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return nil, apperrors.NewNotFoundError("collection run " + id)
	}
	return run, err
}

// Activity counts commits by authored date and issues and pull requests by
// the date of their opening message, in periods covering window
func (a *aggregator) Activity(ctx context.Context, repo domain.Repository, window domain.DateWindow, granularity domain.Granularity) (*domain.Activity, error) {
	commits, err := a.storage.GetCommits(ctx, repo)
	if err != nil {
		return nil, err
	}
	issues, err := a.storage.GetIssues(ctx, repo)
	if err != nil {
		return nil, err
	}
	prs, err := a.storage.GetPullRequests(ctx, repo)
	if err != nil {
		return nil, err
	}

	type counts struct{ commits, issues, prs int }
	periods := make(map[time.Time]*counts)
	bump := func(t time.Time, fn func(*counts)) {
		if t.IsZero() || !window.Contains(t) {
			return
		}
		period := truncateTime(t.UTC(), granularity)
		c, ok := periods[period]
		if !ok {
			c = &counts{}
			periods[period] = c
		}
		fn(c)
	}

	for _, c := range commits {
		bump(c.AuthoredAt, func(c *counts) { c.commits++ })
	}
	for _, issue := range issues {
		if len(issue.Comments) > 0 {
			bump(issue.Comments[0].CreatedAt, func(c *counts) { c.issues++ })
		}
	}
	for _, pr := range prs {
		if len(pr.Comments) > 0 {
			bump(pr.Comments[0].CreatedAt, func(c *counts) { c.prs++ })
		}
	}

	// Generate all periods in the range
	var points []domain.ActivityPoint
	current := truncateTime(window.Start, granularity)
	for !current.After(window.End) {
		point := domain.ActivityPoint{Start: current}
		if c, ok := periods[current]; ok {
			point.Commits, point.Issues, point.PullRequests = c.commits, c.issues, c.prs
		}
		points = append(points, point)
		current = getNextPeriod(current, granularity)
	}

	return &domain.Activity{
		Repository:  repo,
		Window:      window,
		Granularity: granularity,
		Points:      points,
	}, nil
}

// Summary is the presentation-ready result of one collection
type Summary struct {
	RunID      string                       `json:"run_id,omitempty"`
	Repository domain.Repository            `json:"repository"`
	Window     domain.DateWindow            `json:"window"`
	Kinds      []domain.EntityKind          `json:"kinds"`
	Counts     map[domain.EntityKind]int    `json:"counts"`
	Saved      map[domain.EntityKind]int    `json:"saved,omitempty"`
	Errors     map[domain.EntityKind]string `json:"errors,omitempty"`
	Stopped    bool                         `json:"stopped"`
	Status     domain.RunStatus             `json:"status"`
}

// Summarize turns a collection outcome into a summary. Errors are rendered
// as one-line messages.
func Summarize(out *collector.Outcome) *Summary {
	s := &Summary{
		Repository: out.Repository,
		Window:     out.Window,
		Kinds:      out.Kinds,
		Counts:     out.Counts(),
		Stopped:    out.Stopped,
		Status:     RunStatus(out),
	}
	for kind, err := range out.Errors {
		if s.Errors == nil {
			s.Errors = make(map[domain.EntityKind]string)
		}
		s.Errors[kind] = apperrors.StatusText(err)
	}
	return s
}

// RunStatus derives the terminal run status of an outcome. A run where every
// selected kind failed is failed; a stopped run is stopped even if some
// kinds completed.
func RunStatus(out *collector.Outcome) domain.RunStatus {
	switch {
	case out.Stopped:
		return domain.RunStatusStopped
	case len(out.Kinds) > 0 && len(out.Errors) == len(out.Kinds) && total(out.Counts()) == 0:
		return domain.RunStatusFailed
	default:
		return domain.RunStatusCompleted
	}
}

// Text renders the short status shown to the user
func (s *Summary) Text() string {
	var b strings.Builder
	b.WriteString(StatusText(s.Kinds, s.Counts))
	if s.Stopped {
		b.WriteString("\nProcess stopped by the user.")
	}
	for _, kind := range s.Kinds {
		if msg, ok := s.Errors[kind]; ok {
			fmt.Fprintf(&b, "\n%s: %s", kind.Label(), msg)
		}
	}
	return b.String()
}

// StatusText lists the count of every selected kind, one per line, in
// display order. When nothing was found the no-data message is returned.
func StatusText(kinds []domain.EntityKind, counts map[domain.EntityKind]int) string {
	if total(counts) == 0 {
		return NoDataText
	}
	selected := make(map[domain.EntityKind]bool, len(kinds))
	for _, k := range kinds {
		selected[k] = true
	}

	var lines []string
	for _, kind := range domain.AllKinds {
		if selected[kind] {
			lines = append(lines, fmt.Sprintf("%s: %d", kind.Label(), counts[kind]))
		}
	}
	return strings.Join(lines, "\n")
}

func total(counts map[domain.EntityKind]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// truncateTime truncates a time to the start of the period based on granularity
func truncateTime(t time.Time, granularity domain.Granularity) time.Time {
	switch granularity {
	case domain.GranularityWeek:
		// Get the start of the week (Monday)
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()-weekday+1, 0, 0, 0, 0, time.UTC)
	case domain.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// getNextPeriod returns the start of the next period
func getNextPeriod(t time.Time, granularity domain.Granularity) time.Time {
	switch granularity {
	case domain.GranularityWeek:
		return t.AddDate(0, 0, 7)
	case domain.GranularityMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// ParseGranularity accepts "day", "week" or "month"; empty means day
func ParseGranularity(s string) (domain.Granularity, error) {
	switch g := domain.Granularity(strings.ToLower(s)); g {
	case "":
		return domain.GranularityDay, nil
	case domain.GranularityDay, domain.GranularityWeek, domain.GranularityMonth:
		return g, nil
	default:
		return "", apperrors.NewBadRequestError(fmt.Sprintf("invalid granularity %q, expected day, week or month", s))
	}
}
