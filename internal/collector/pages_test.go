package collector

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/logger"
)

func createdAt(dates ...string) []Payload {
	out := make([]Payload, 0, len(dates))
	for _, d := range dates {
		out = append(out, Payload{"created_at": d})
	}
	return out
}

func dates(items []Payload) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, _ := item.String("created_at")
		out = append(out, s)
	}
	return out
}

func TestDateFilter_Apply(t *testing.T) {
	window, err := domain.NewDateWindow("2023-01-01", "2023-12-31")
	require.NoError(t, err)

	t.Run("keeps entities inside the window", func(t *testing.T) {
		f := &DateFilter{Window: window, Field: []string{"created_at"}}
		items := createdAt("2023-01-01T10:00:00Z", "2023-06-15T00:00:00Z", "2024-01-01T00:00:00Z")

		assert.Equal(t, []string{"2023-01-01T10:00:00Z", "2023-06-15T00:00:00Z"}, dates(f.Apply(items)))
	})

	t.Run("window bounds are inclusive calendar dates", func(t *testing.T) {
		f := &DateFilter{Window: window, Field: []string{"created_at"}}
		items := createdAt("2022-12-31T23:59:59Z", "2023-01-01T00:00:00Z", "2023-12-31T23:59:59Z", "2024-01-01T00:00:00Z")

		assert.Equal(t, []string{"2023-01-01T00:00:00Z", "2023-12-31T23:59:59Z"}, dates(f.Apply(items)))
	})

	t.Run("without early exit older entities do not end the scan", func(t *testing.T) {
		f := &DateFilter{Window: window, Field: []string{"created_at"}}
		items := createdAt("2022-05-01T00:00:00Z", "2023-03-01T00:00:00Z")

		assert.Equal(t, []string{"2023-03-01T00:00:00Z"}, dates(f.Apply(items)))
	})

	t.Run("early exit stops at the first entity older than the window", func(t *testing.T) {
		f := &DateFilter{Window: window, Field: []string{"created_at"}, ReverseChronological: true}
		items := createdAt("2024-02-01T00:00:00Z", "2023-08-01T00:00:00Z", "2022-05-01T00:00:00Z", "2023-03-01T00:00:00Z")

		assert.Equal(t, []string{"2023-08-01T00:00:00Z"}, dates(f.Apply(items)))
	})

	t.Run("entities without a date are dropped", func(t *testing.T) {
		f := &DateFilter{Window: window, Field: []string{"created_at"}}
		items := []Payload{{"title": "no date"}, {"created_at": "yesterday"}, {"created_at": "2023-04-01T00:00:00Z"}}

		assert.Len(t, f.Apply(items), 1)
	})

	t.Run("nil filter keeps everything", func(t *testing.T) {
		var f *DateFilter
		items := createdAt("1999-01-01T00:00:00Z")

		assert.Equal(t, items, f.Apply(items))
	})
}

func TestPageCollector_Collect(t *testing.T) {
	ctx := context.Background()

	t.Run("merges every page", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			setRate(w, 4000)
			writeJSON(w, http.StatusOK, branchPage("a"+page, "b"+page))
		})
		s := fake.session(t, "t1")

		items, err := NewPageCollector(testFetcher(), 3, logger.Discard()).Collect(ctx, s, branchesReq, 4, nil)

		require.NoError(t, err)
		var names []string
		for _, item := range items {
			name, _ := item.String("name")
			names = append(names, name)
		}
		sort.Strings(names)
		assert.Equal(t, []string{"a1", "a2", "a3", "a4", "b1", "b2", "b3", "b4"}, names)
		assert.Equal(t, 4, fake.count("/branches"))
	})

	t.Run("failed page is reported and omitted", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			if page == "2" {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
				return
			}
			setRate(w, 4000)
			writeJSON(w, http.StatusOK, branchPage("b"+page))
		})
		s := fake.session(t, "t1")

		items, err := NewPageCollector(testFetcher(), 2, logger.Discard()).Collect(ctx, s, branchesReq, 3, nil)

		assert.Len(t, items, 2)
		var pageErr *PageError
		require.True(t, errors.As(err, &pageErr))
		assert.Equal(t, 2, pageErr.Page)
	})

	t.Run("stop during page two abandons the rest", func(t *testing.T) {
		var session atomic.Pointer[Session]
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			if page == "2" {
				session.Load().Stop()
			}
			setRate(w, 4000)
			writeJSON(w, http.StatusOK, branchPage("b"+page))
		})
		s := fake.session(t, "t1")
		session.Store(s)

		done := make(chan struct{})
		var items []Payload
		var err error
		go func() {
			defer close(done)
			items, err = NewPageCollector(testFetcher(), 1, logger.Discard()).Collect(ctx, s, branchesReq, 5, nil)
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("collect did not return after stop")
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(items), 2)
		assert.LessOrEqual(t, len(items), 5)
		assert.True(t, s.Stopped())
	})

	t.Run("stopped session starts nothing", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, branchPage("main"))
		})
		s := fake.session(t, "t1")
		s.Stop()

		items, err := NewPageCollector(testFetcher(), 4, logger.Discard()).Collect(ctx, s, branchesReq, 5, nil)

		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Empty(t, fake.recorded())
	})

	t.Run("cancelled context behaves like stop", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, branchPage("main"))
		})
		s := fake.session(t, "t1")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		items, err := NewPageCollector(testFetcher(), 4, logger.Discard()).Collect(cctx, s, branchesReq, 5, nil)

		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
