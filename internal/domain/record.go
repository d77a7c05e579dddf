package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind identifies one of the collectable resources of a repository
type EntityKind string

const (
	KindCommit      EntityKind = "commits"
	KindIssue       EntityKind = "issues"
	KindPullRequest EntityKind = "pull_requests"
	KindBranch      EntityKind = "branches"
)

// AllKinds lists every entity kind in display order
var AllKinds = []EntityKind{KindCommit, KindIssue, KindPullRequest, KindBranch}

// Label returns the human-readable name used in status messages
func (k EntityKind) Label() string {
	switch k {
	case KindCommit:
		return "Commits"
	case KindIssue:
		return "Issues"
	case KindPullRequest:
		return "Pull Requests"
	case KindBranch:
		return "Branches"
	default:
		return string(k)
	}
}

// ParseEntityKind accepts a kind name; "pulls" is an alias for pull requests
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCommit, KindIssue, KindPullRequest, KindBranch:
		return k, nil
	case "pulls":
		return KindPullRequest, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

// Commit represents a normalized commit. SHA is the natural key.
type Commit struct {
	SHA        string    `json:"sha"`
	Message    string    `json:"message"`
	AuthoredAt time.Time `json:"date"`
	Author     string    `json:"author"`
}

// Comment represents one message of an issue or pull request thread
type Comment struct {
	Author    string    `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue represents a normalized issue. Number is the natural key within the repository.
// Comments[0] is always the opening message of the issue.
type Issue struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	State    string    `json:"state"`
	Creator  string    `json:"creator"`
	Comments []Comment `json:"comments"`
}

// PullRequest has the same shape as Issue but lives in its own key space
type PullRequest struct {
	Number   int       `json:"number"`
	Title    string    `json:"title"`
	State    string    `json:"state"`
	Creator  string    `json:"creator"`
	Comments []Comment `json:"comments"`
}

// Branch represents a normalized branch. Name is the natural key.
type Branch struct {
	Name    string `json:"name"`
	HeadSHA string `json:"sha"`
}

// Repository identifies a repository on the hosting service
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns "owner/name"
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}
