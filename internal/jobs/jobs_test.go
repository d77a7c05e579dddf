package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
	"github.com/kurihiro0119/repo-harvester/internal/logger"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
	"github.com/kurihiro0119/repo-harvester/internal/storage/jsonfile"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", "4999")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
	_ = json.NewEncoder(w).Encode(v)
}

// githubStub serves two commits and, for branches, one branch per page
// over branchPages pages
func githubStub(branchPages int, beforeBranchPage func(page string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/commits"):
			writeJSON(w, []map[string]any{
				{"sha": "c1", "commit": map[string]any{"message": "one", "author": map[string]any{"name": "Ann", "date": "2023-02-01T00:00:00Z"}}},
				{"sha": "c2", "commit": map[string]any{"message": "two", "author": map[string]any{"name": "Bob", "date": "2023-03-01T00:00:00Z"}}},
			})
		case strings.HasSuffix(r.URL.Path, "/branches"):
			if r.URL.Query().Get("per_page") == "1" {
				// one item per probe page; bulk pages hold two
				last := fmt.Sprintf("http://%s%s?per_page=1&page=%d", r.Host, r.URL.Path, branchPages*2)
				w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="last"`, last))
				writeJSON(w, []map[string]any{})
				return
			}
			page := r.URL.Query().Get("page")
			if beforeBranchPage != nil {
				beforeBranchPage(page)
			}
			writeJSON(w, []map[string]any{{"name": "b" + page, "commit": map[string]any{"sha": "s" + page}}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	}
}

func newTestRunner(t *testing.T, handler http.HandlerFunc) (*Runner, storage.Storage) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	factory, err := collector.NewClientFactory(server.URL)
	require.NoError(t, err)
	store, err := jsonfile.NewJSONStorage(t.TempDir())
	require.NoError(t, err)

	log := logger.Discard()
	c := collector.NewGitHubCollector(collector.Options{PerPage: 2, Workers: 1, Logger: log})
	return NewRunner(c, store, []string{"t1", "t2"}, factory, WithLogger(log)), store
}

func validRequest(kinds ...domain.EntityKind) Request {
	return Request{
		RepositoryURL: "https://github.com/octo/hello",
		Start:         "2023-01-01",
		End:           "2023-12-31",
		Kinds:         kinds,
	}
}

func TestRunner_Prepare(t *testing.T) {
	runner, _ := newTestRunner(t, githubStub(1, nil))

	tests := []struct {
		name string
		req  Request
	}{
		{"bad repository", Request{RepositoryURL: "not a repo", Start: "2023-01-01", End: "2023-01-02", Kinds: domain.AllKinds}},
		{"bad date", Request{RepositoryURL: "octo/hello", Start: "2023-01-01", End: "someday", Kinds: domain.AllKinds}},
		{"reversed window", Request{RepositoryURL: "octo/hello", Start: "2023-02-01", End: "2023-01-01", Kinds: domain.AllKinds}},
		{"no kinds", Request{RepositoryURL: "octo/hello", Start: "2023-01-01", End: "2023-01-02"}},
		{"unknown kind", Request{RepositoryURL: "octo/hello", Start: "2023-01-01", End: "2023-01-02", Kinds: []domain.EntityKind{"tags"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Prepare(tt.req)
			assert.True(t, apperrors.IsBadRequest(err), "unexpected error %v", err)
		})
	}

	params, err := runner.Prepare(validRequest("pulls", domain.KindCommit))
	require.NoError(t, err)
	assert.Equal(t, []domain.EntityKind{domain.KindPullRequest, domain.KindCommit}, params.Kinds)
	assert.Equal(t, "octo/hello", params.Repository.FullName())
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	runner, store := newTestRunner(t, githubStub(3, nil))

	params, err := runner.Prepare(validRequest(domain.KindCommit, domain.KindBranch))
	require.NoError(t, err)

	runOnce := func() *domain.CollectionRun {
		s, err := runner.NewSession("")
		require.NoError(t, err)
		run := NewRun("", params)
		summary, err := runner.Run(ctx, s, run, params)
		require.NoError(t, err)
		assert.Equal(t, "Commits: 2\nBranches: 3", summary.Text())
		return run
	}

	first := runOnce()
	assert.Equal(t, domain.RunStatusCompleted, first.Status)
	assert.Equal(t, 3, first.Counts[domain.KindBranch])

	second := runOnce()
	assert.NotEqual(t, first.ID, second.ID)

	commits, err := store.GetCommits(ctx, params.Repository)
	require.NoError(t, err)
	assert.Len(t, commits, 2, "repeated runs never duplicate records")

	stored, err := store.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, stored.Status)
}

func TestRunner_RunRecordsFailures(t *testing.T) {
	ctx := context.Background()
	runner, store := newTestRunner(t, githubStub(1, nil))

	params, err := runner.Prepare(validRequest(domain.KindIssue))
	require.NoError(t, err)
	s, err := runner.NewSession("")
	require.NoError(t, err)
	run := NewRun("", params)

	summary, err := runner.Run(ctx, s, run, params)

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, summary.Status)
	assert.Contains(t, summary.Errors, domain.KindIssue)

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "Issues:")
}

func TestManager(t *testing.T) {
	t.Run("invalid request starts nothing", func(t *testing.T) {
		runner, _ := newTestRunner(t, githubStub(1, nil))
		m := NewManager(runner, logger.Discard())

		_, err := m.Start(Request{RepositoryURL: "nope"})

		assert.True(t, apperrors.IsBadRequest(err))
		assert.Empty(t, m.List())
	})

	t.Run("result is delivered on the channel", func(t *testing.T) {
		runner, _ := newTestRunner(t, githubStub(2, nil))
		m := NewManager(runner, logger.Discard())

		job, err := m.Start(validRequest(domain.KindBranch))
		require.NoError(t, err)

		select {
		case res := <-job.Results():
			require.NoError(t, res.Err)
			assert.Equal(t, job.ID, res.JobID)
			assert.Equal(t, 2, res.Summary.Counts[domain.KindBranch])
		case <-time.After(10 * time.Second):
			t.Fatal("job did not finish")
		}

		_, open := <-job.Results()
		assert.False(t, open, "results are delivered once")

		snap := job.Snapshot()
		assert.True(t, snap.Done)
		assert.Equal(t, domain.RunStatusCompleted, snap.Run.Status)
		assert.Equal(t, "Branches: 2", snap.Text)

		got, err := m.Get(job.ID)
		require.NoError(t, err)
		assert.Same(t, job, got)
	})

	t.Run("stop abandons pages not yet started", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		runner, store := newTestRunner(t, githubStub(5, func(page string) {
			if page == "1" {
				once.Do(func() { close(started) })
				<-release
			}
		}))
		m := NewManager(runner, logger.Discard())

		job, err := m.Start(validRequest(domain.KindBranch))
		require.NoError(t, err)

		<-started
		_, err = m.Stop(job.ID)
		require.NoError(t, err)
		close(release)

		select {
		case <-job.Done():
		case <-time.After(10 * time.Second):
			t.Fatal("job did not stop")
		}

		snap := job.Snapshot()
		assert.Equal(t, domain.RunStatusStopped, snap.Run.Status)
		assert.Equal(t, 1, snap.Summary.Counts[domain.KindBranch])

		stored, err := store.GetBranches(context.Background(), domain.Repository{Owner: "octo", Name: "hello"})
		require.NoError(t, err)
		assert.Len(t, stored, 1, "what was collected before the stop is kept")
	})

	t.Run("unknown job", func(t *testing.T) {
		runner, _ := newTestRunner(t, githubStub(1, nil))
		m := NewManager(runner, logger.Discard())

		_, err := m.Stop("missing")

		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("shutdown waits for running jobs", func(t *testing.T) {
		runner, _ := newTestRunner(t, githubStub(3, nil))
		m := NewManager(runner, logger.Discard())

		job, err := m.Start(validRequest(domain.KindBranch))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))

		select {
		case <-job.Done():
		default:
			t.Fatal("shutdown returned before the job finished")
		}
	})
}
