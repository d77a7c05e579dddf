package collector

import (
	"context"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// Enricher assembles the discussion thread of issues and pull requests
type Enricher struct {
	planner *Planner
	pages   *PageCollector
	perPage int
	log     logrus.FieldLogger
}

// NewEnricher creates an enricher fetching comment pages of perPage items
func NewEnricher(planner *Planner, pages *PageCollector, perPage int, log logrus.FieldLogger) *Enricher {
	return &Enricher{planner: planner, pages: pages, perPage: perPage, log: log}
}

// Enrich returns opening followed by the comments found at commentsURL.
// The opening message is always first even though it is not fetched.
// Fetch failures leave the thread with whatever could be read.
func (e *Enricher) Enrich(ctx context.Context, s *Session, commentsURL string, opening domain.Comment) []domain.Comment {
	thread := []domain.Comment{opening}
	if commentsURL == "" || s.halted(ctx) {
		return thread
	}

	log := e.log.WithField("comments_url", commentsURL)
	req := FetchRequest{Path: commentsURL}.With("per_page", strconv.Itoa(e.perPage))

	pages, err := e.planner.TotalPages(ctx, s, req, e.perPage)
	if err != nil {
		log.WithError(err).Warn("Failed to plan comment pages")
		return thread
	}

	raw, err := e.pages.Collect(ctx, s, req, pages, nil)
	if err != nil {
		log.WithError(err).Warn("Some comment pages could not be fetched")
	}
	// pages complete in any order; the thread reads oldest first
	comments := normalizeAll(raw, NormalizeComment)
	slices.SortStableFunc(comments, func(a, b domain.Comment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return append(thread, comments...)
}
