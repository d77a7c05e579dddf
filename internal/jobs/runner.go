// Package jobs runs collections end to end: run record, collection,
// persistence and summary. Runner does it synchronously for the CLI;
// Manager runs one-shot background jobs for the HTTP API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
)

// Request is what a front-end asks to collect
type Request struct {
	RepositoryURL string              `json:"repository_url"`
	Start         string              `json:"start"`
	End           string              `json:"end"`
	Kinds         []domain.EntityKind `json:"kinds"`
}

// Runner performs collections against one storage
type Runner struct {
	collector collector.Collector
	storage   storage.Storage
	tokens    []string
	factory   collector.ClientFactory
	rps       float64
	log       logrus.FieldLogger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithRequestsPerSecond paces the requests of every session
func WithRequestsPerSecond(rps float64) RunnerOption {
	return func(r *Runner) {
		r.rps = rps
	}
}

// WithLogger sets the runner's logger
func WithLogger(log logrus.FieldLogger) RunnerOption {
	return func(r *Runner) {
		r.log = log
	}
}

// NewRunner creates a runner. Every session it opens rotates over tokens
// with clients built by factory.
func NewRunner(c collector.Collector, st storage.Storage, tokens []string, factory collector.ClientFactory, opts ...RunnerOption) *Runner {
	r := &Runner{
		collector: c,
		storage:   st,
		tokens:    tokens,
		factory:   factory,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare validates req before any network call
func (r *Runner) Prepare(req Request) (collector.Params, error) {
	repo, err := collector.ParseRepository(req.RepositoryURL)
	if err != nil {
		return collector.Params{}, err
	}
	window, err := domain.NewDateWindow(req.Start, req.End)
	if err != nil {
		return collector.Params{}, apperrors.NewBadRequestError("Invalid date format. " + err.Error())
	}
	if window.End.Before(window.Start) {
		return collector.Params{}, apperrors.NewBadRequestError("The start date must not be after the end date.")
	}
	if len(req.Kinds) == 0 {
		return collector.Params{}, apperrors.NewBadRequestError("Select at least one of commits, issues, pull requests or branches.")
	}
	kinds := make([]domain.EntityKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kind, err := domain.ParseEntityKind(string(k))
		if err != nil {
			return collector.Params{}, apperrors.NewBadRequestError(err.Error())
		}
		kinds = append(kinds, kind)
	}
	return collector.Params{Repository: repo, Window: window, Kinds: kinds}, nil
}

// NewSession opens a session with a fresh rotator over the runner's tokens
func (r *Runner) NewSession(id string) (*collector.Session, error) {
	rotator, err := collector.NewRotator(r.tokens, r.factory)
	if err != nil {
		return nil, apperrors.NewUnauthorizedError(err.Error())
	}
	if id == "" {
		id = uuid.New().String()
	}
	return collector.NewSession(rotator, collector.WithSessionID(id), collector.WithRequestsPerSecond(r.rps)), nil
}

// NewRun creates the in-progress record of a collection
func NewRun(id string, params collector.Params) *domain.CollectionRun {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	return &domain.CollectionRun{
		ID:         id,
		Repository: params.Repository,
		Window:     params.Window,
		Kinds:      params.Kinds,
		Status:     domain.RunStatusInProgress,
		Counts:     map[domain.EntityKind]int{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Run collects params on session s, stores the records and keeps run up to
// date. Collection failures of single kinds are part of the summary; the
// returned error is only set when the run could not be recorded or stored.
func (r *Runner) Run(ctx context.Context, s *collector.Session, run *domain.CollectionRun, params collector.Params) (*aggregator.Summary, error) {
	log := r.log.WithFields(logrus.Fields{"run": run.ID, "repo": params.Repository.FullName()})

	if err := r.storage.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	start := time.Now()
	log.WithField("window", params.Window.String()).Info("Start collecting data")
	out := r.collector.Collect(ctx, s, params)

	summary := aggregator.Summarize(out)
	summary.RunID = run.ID

	// persisting must survive a cancelled collection context
	saveCtx := context.WithoutCancel(ctx)
	saved, saveErr := r.persist(saveCtx, out)
	summary.Saved = saved

	run.Counts = summary.Counts
	run.Status = summary.Status
	var problems []string
	for _, kind := range summary.Kinds {
		if msg, ok := summary.Errors[kind]; ok {
			problems = append(problems, kind.Label()+": "+msg)
		}
	}
	if saveErr != nil {
		run.Status = domain.RunStatusFailed
		summary.Status = domain.RunStatusFailed
		problems = append(problems, "Storage: "+saveErr.Error())
	}
	run.Error = strings.Join(problems, "; ")

	if err := r.storage.SaveRun(saveCtx, run); err != nil {
		saveErr = errors.Join(saveErr, fmt.Errorf("recording run: %w", err))
	}

	log.WithFields(logrus.Fields{
		"status":   run.Status,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("Data collection completed")

	if saveErr != nil {
		return summary, saveErr
	}
	return summary, nil
}

// persist stores every selected kind and returns how many records were new
func (r *Runner) persist(ctx context.Context, out *collector.Outcome) (map[domain.EntityKind]int, error) {
	saved := make(map[domain.EntityKind]int, len(out.Kinds))
	var errs []error
	for _, kind := range out.Kinds {
		var n int
		var err error
		switch kind {
		case domain.KindCommit:
			n, err = r.storage.SaveCommits(ctx, out.Repository, out.Commits)
		case domain.KindIssue:
			n, err = r.storage.SaveIssues(ctx, out.Repository, out.Issues)
		case domain.KindPullRequest:
			n, err = r.storage.SavePullRequests(ctx, out.Repository, out.PullRequests)
		case domain.KindBranch:
			n, err = r.storage.SaveBranches(ctx, out.Repository, out.Branches)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saving %s: %w", kind, err))
			continue
		}
		saved[kind] = n
	}
	return saved, errors.Join(errs...)
}
