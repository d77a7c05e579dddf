package domain

import "time"

// RepositoryStats summarizes what is stored for one repository
type RepositoryStats struct {
	Repository Repository         `json:"repository"`
	Counts     map[EntityKind]int `json:"counts"`
	// Comments counts every stored thread message, opening messages included
	Comments      int            `json:"comments"`
	Authors       int            `json:"authors"`
	FirstCommitAt *time.Time     `json:"first_commit_at,omitempty"`
	LastCommitAt  *time.Time     `json:"last_commit_at,omitempty"`
	LastRun       *CollectionRun `json:"last_run,omitempty"`
}

// Granularity of activity buckets
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ActivityPoint counts records created in one period
type ActivityPoint struct {
	Start        time.Time `json:"start"`
	Commits      int       `json:"commits"`
	Issues       int       `json:"issues"`
	PullRequests int       `json:"pull_requests"`
}

// Activity is a gap-free series of periods covering a window
type Activity struct {
	Repository  Repository      `json:"repository"`
	Window      DateWindow      `json:"window"`
	Granularity Granularity     `json:"granularity"`
	Points      []ActivityPoint `json:"points"`
}
