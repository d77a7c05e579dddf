package collector

import "github.com/kurihiro0119/repo-harvester/internal/domain"

// The normalizers project raw payloads into records. A payload missing any
// required key yields ok == false and is dropped by the caller; they never
// fail otherwise.

// NormalizeCommit requires sha, commit.message, commit.author.date and commit.author.name
func NormalizeCommit(p Payload) (domain.Commit, bool) {
	sha, ok := p.String("sha")
	if !ok {
		return domain.Commit{}, false
	}
	message, ok := p.String("commit", "message")
	if !ok {
		return domain.Commit{}, false
	}
	date, ok := p.Time("commit", "author", "date")
	if !ok {
		return domain.Commit{}, false
	}
	author, ok := p.String("commit", "author", "name")
	if !ok {
		return domain.Commit{}, false
	}
	return domain.Commit{SHA: sha, Message: message, AuthoredAt: date, Author: author}, true
}

// threadHeader holds the fields shared by issues and pull requests
type threadHeader struct {
	Number  int
	Title   string
	State   string
	Creator string
	Opening domain.Comment
}

func normalizeThread(p Payload) (threadHeader, bool) {
	var h threadHeader
	var ok bool
	if h.Number, ok = p.Int("number"); !ok {
		return h, false
	}
	if h.Title, ok = p.String("title"); !ok {
		return h, false
	}
	if h.State, ok = p.String("state"); !ok {
		return h, false
	}
	if h.Creator, ok = p.String("user", "login"); !ok {
		return h, false
	}
	body, _ := p.NullableString("body")
	createdAt, _ := p.Time("created_at")
	h.Opening = domain.Comment{Author: h.Creator, Body: body, CreatedAt: createdAt}
	return h, true
}

// NormalizeIssue requires number, title, state and user.login.
// Comments holds only the opening message; see Enricher for the thread.
func NormalizeIssue(p Payload) (domain.Issue, bool) {
	h, ok := normalizeThread(p)
	if !ok {
		return domain.Issue{}, false
	}
	return domain.Issue{
		Number:   h.Number,
		Title:    h.Title,
		State:    h.State,
		Creator:  h.Creator,
		Comments: []domain.Comment{h.Opening},
	}, true
}

// NormalizePullRequest requires the same keys as NormalizeIssue
func NormalizePullRequest(p Payload) (domain.PullRequest, bool) {
	h, ok := normalizeThread(p)
	if !ok {
		return domain.PullRequest{}, false
	}
	return domain.PullRequest{
		Number:   h.Number,
		Title:    h.Title,
		State:    h.State,
		Creator:  h.Creator,
		Comments: []domain.Comment{h.Opening},
	}, true
}

// NormalizeBranch requires name and commit.sha
func NormalizeBranch(p Payload) (domain.Branch, bool) {
	name, ok := p.String("name")
	if !ok {
		return domain.Branch{}, false
	}
	sha, ok := p.String("commit", "sha")
	if !ok {
		return domain.Branch{}, false
	}
	return domain.Branch{Name: name, HeadSHA: sha}, true
}

// NormalizeComment requires user.login, body and created_at
func NormalizeComment(p Payload) (domain.Comment, bool) {
	author, ok := p.String("user", "login")
	if !ok {
		return domain.Comment{}, false
	}
	body, ok := p.NullableString("body")
	if !ok {
		return domain.Comment{}, false
	}
	createdAt, ok := p.Time("created_at")
	if !ok {
		return domain.Comment{}, false
	}
	return domain.Comment{Author: author, Body: body, CreatedAt: createdAt}, true
}

// normalizeAll applies fn to every payload and keeps the records it accepts
func normalizeAll[T any](items []Payload, fn func(Payload) (T, bool)) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if rec, ok := fn(item); ok {
			out = append(out, rec)
		}
	}
	return out
}
