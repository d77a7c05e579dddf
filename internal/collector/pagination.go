package collector

import (
	"context"
	"fmt"
)

// Planner determines how many pages a resource spans before the bulk fetch
type Planner struct {
	fetcher *Fetcher
}

// NewPlanner creates a planner probing through fetcher
func NewPlanner(fetcher *Fetcher) *Planner {
	return &Planner{fetcher: fetcher}
}

// TotalPages probes the resource with one item per page. The "last" link of
// the probe therefore carries the item count, which is turned into a page
// count for perPage items: ceil(count/perPage). Using the item count itself
// as the page count would request count-ceil(count/perPage) empty pages.
// Without a "last" link the resource is one page.
func (p *Planner) TotalPages(ctx context.Context, s *Session, req FetchRequest, perPage int) (int, error) {
	if perPage < 1 {
		return 0, fmt.Errorf("per page must be positive, got %d", perPage)
	}

	probe := req.With("per_page", "1").With("page", "1")
	page, err := p.fetcher.Fetch(ctx, s, probe)
	if err != nil {
		return 0, err
	}
	if page.LastPage == 0 {
		return 1, nil
	}
	return (page.LastPage + perPage - 1) / perPage, nil
}
