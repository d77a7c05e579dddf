package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
)

// DefaultWorkers is the size of the page worker pool
const DefaultWorkers = 8

// DateFilter keeps entities whose date field falls inside Window.
// Field is the key path of an RFC 3339 timestamp, e.g. {"commit", "author", "date"}.
// ReverseChronological lets a page scan stop at the first entity older than
// the window; only set it for listings known to be sorted newest first.
type DateFilter struct {
	Window               domain.DateWindow
	Field                []string
	ReverseChronological bool
}

// Apply filters one page, preserving the relative order of kept entities.
// Entities without a readable date are dropped.
func (f *DateFilter) Apply(items []Payload) []Payload {
	if f == nil {
		return items
	}
	kept := make([]Payload, 0, len(items))
	for _, item := range items {
		at, ok := item.Time(f.Field...)
		if !ok {
			continue
		}
		if f.Window.Contains(at) {
			kept = append(kept, item)
			continue
		}
		if f.ReverseChronological && f.Window.Before(at) {
			break
		}
	}
	return kept
}

// PageError records a page that contributed nothing
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// PageCollector fans page fetches out over a bounded worker pool
type PageCollector struct {
	fetcher *Fetcher
	workers int
	log     logrus.FieldLogger
}

// NewPageCollector creates a collector running at most workers fetches at once
func NewPageCollector(fetcher *Fetcher, workers int, log logrus.FieldLogger) *PageCollector {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &PageCollector{fetcher: fetcher, workers: workers, log: log}
}

// Collect fetches pages 1..pages of req and returns their entities in
// completion order. The stop flag is checked before each page is started;
// pages not yet started when it is set are abandoned. A failing page
// contributes nothing and is reported in the returned error, joined with
// other failures, while the entities of every other page are still returned.
func (c *PageCollector) Collect(ctx context.Context, s *Session, req FetchRequest, pages int, filter *DateFilter) ([]Payload, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Payload
		errs    []error
	)
	semaphore := make(chan struct{}, c.workers)

	for page := 1; page <= pages; page++ {
		if s.halted(ctx) {
			c.log.WithField("path", req.Path).Infof("Process stopped, abandoning pages %d-%d", page, pages)
			break
		}

		acquired := false
		select {
		case semaphore <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if s.halted(ctx) {
			if acquired {
				<-semaphore
			}
			c.log.WithField("path", req.Path).Infof("Process stopped, abandoning pages %d-%d", page, pages)
			break
		}

		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			got, err := c.fetcher.Fetch(ctx, s, req.With("page", strconv.Itoa(page)))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.WithError(err).WithFields(logrus.Fields{"path": req.Path, "page": page}).Warn("Error fetching page data")
				errs = append(errs, &PageError{Page: page, Err: err})
				return
			}
			results = append(results, filter.Apply(got.Items)...)
		}(page)
	}

	wg.Wait()
	return results, errors.Join(errs...)
}
