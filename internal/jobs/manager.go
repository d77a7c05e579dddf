package jobs

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
)

// Result is delivered once when a job finishes
type Result struct {
	JobID   string
	Summary *aggregator.Summary
	Err     error
}

// Job is one background collection. It runs exactly once.
type Job struct {
	ID        string
	CreatedAt time.Time

	session *collector.Session
	cancel  context.CancelFunc
	results chan Result
	done    chan struct{}

	mu     sync.RWMutex
	run    *domain.CollectionRun
	result *Result
}

// Results delivers the job's result once and is then closed
func (j *Job) Results() <-chan Result {
	return j.results
}

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Stop asks the job to start no new requests. Requests in flight finish and
// what was collected so far is stored.
func (j *Job) Stop() {
	j.session.Stop()
}

// Snapshot is a consistent view of a job for presentation
type Snapshot struct {
	ID      string               `json:"id"`
	Run     domain.CollectionRun `json:"run"`
	Done    bool                 `json:"done"`
	Summary *aggregator.Summary  `json:"summary,omitempty"`
	Text    string               `json:"text,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Snapshot returns the current state of the job
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := Snapshot{ID: j.ID, Run: *j.run}
	if j.session.Stopped() && !j.run.Finished() {
		snap.Text = "Stopping..."
	}
	if j.result != nil {
		snap.Done = true
		snap.Summary = j.result.Summary
		if j.result.Summary != nil {
			snap.Text = j.result.Summary.Text()
		}
		if j.result.Err != nil {
			snap.Error = apperrors.StatusText(j.result.Err)
		}
	}
	return snap
}

func (j *Job) finish(res Result) {
	j.mu.Lock()
	j.result = &res
	j.mu.Unlock()

	j.results <- res
	close(j.results)
	close(j.done)
	j.cancel()
}

// Manager starts and tracks background jobs
type Manager struct {
	runner *Runner
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewManager creates a manager running jobs on runner
func NewManager(runner *Runner, log logrus.FieldLogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		jobs:   make(map[string]*Job),
	}
}

// Start validates req and starts a job for it. Invalid requests fail here,
// before anything runs.
func (m *Manager) Start(req Request) (*Job, error) {
	params, err := m.runner.Prepare(req)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	session, err := m.runner.NewSession(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	job := &Job{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		session:   session,
		cancel:    cancel,
		results:   make(chan Result, 1),
		done:      make(chan struct{}),
		run:       NewRun(id, params),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"job": id, "repo": params.Repository.FullName()}).Info("Job started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// the runner updates its own copy; the job exposes snapshots
		job.mu.RLock()
		run := *job.run
		job.mu.RUnlock()

		summary, err := m.runner.Run(ctx, session, &run, params)

		job.mu.Lock()
		job.run = &run
		job.mu.Unlock()
		job.finish(Result{JobID: id, Summary: summary, Err: err})
	}()

	return job, nil
}

// Get returns a job by ID
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("job " + id)
	}
	return job, nil
}

// Stop sets the stop flag of a job
func (m *Manager) Stop(id string) (*Job, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	job.Stop()
	m.log.WithField("job", id).Info("Stop requested")
	return job, nil
}

// List returns every job, newest first
func (m *Manager) List() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs
}

// Shutdown stops every job and waits for them to finish or ctx to expire.
// Jobs still running when ctx expires are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, job := range m.List() {
		job.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}
