package collector

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/logger"
)

func testEnricher(perPage int) *Enricher {
	fetcher := testFetcher()
	planner := NewPlanner(fetcher)
	return NewEnricher(planner, NewPageCollector(fetcher, 2, logger.Discard()), perPage, logger.Discard())
}

func TestEnricher_Enrich(t *testing.T) {
	ctx := context.Background()
	opening := domain.Comment{Author: "ann", Body: "Bug here", CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("opening message comes first", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			setRate(w, 4000)
			if isProbe(r) {
				setLastPage(w, r, 2)
			}
			writeJSON(w, http.StatusOK, []map[string]any{
				{"user": map[string]any{"login": "bob"}, "body": "Fixed", "created_at": "2023-01-03T00:00:00Z"},
				{"user": map[string]any{"login": "carl"}, "body": "Confirmed", "created_at": "2023-01-02T00:00:00Z"},
			})
		})
		s := fake.session(t, "t1")

		thread := testEnricher(35).Enrich(ctx, s, fake.server.URL+"/repos/octo/hello/issues/1/comments", opening)

		require.Len(t, thread, 3)
		assert.Equal(t, opening, thread[0])
		assert.Equal(t, "carl", thread[1].Author)
		assert.Equal(t, "bob", thread[2].Author)
	})

	t.Run("no comments URL keeps the opening only", func(t *testing.T) {
		thread := testEnricher(35).Enrich(ctx, nil, "", opening)

		assert.Equal(t, []domain.Comment{opening}, thread)
	})

	t.Run("fetch failure keeps the opening only", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		})
		s := fake.session(t, "t1")

		thread := testEnricher(35).Enrich(ctx, s, fake.server.URL+"/repos/octo/hello/issues/1/comments", opening)

		assert.Equal(t, []domain.Comment{opening}, thread)
	})

	t.Run("comments are paged", func(t *testing.T) {
		fake := newFakeGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			setRate(w, 4000)
			if isProbe(r) {
				setLastPage(w, r, 6)
				writeJSON(w, http.StatusOK, []map[string]any{})
				return
			}
			page := r.URL.Query().Get("page")
			writeJSON(w, http.StatusOK, []map[string]any{
				{"user": map[string]any{"login": "u" + page}, "body": "p" + page, "created_at": "2023-01-0" + page + "T00:00:00Z"},
			})
		})
		s := fake.session(t, "t1")

		thread := testEnricher(2).Enrich(ctx, s, fake.server.URL+"/repos/octo/hello/pulls/9/comments", opening)

		require.Len(t, thread, 4)
		var authors []string
		for _, c := range thread[1:] {
			authors = append(authors, c.Author)
		}
		assert.Equal(t, "u1,u2,u3", strings.Join(authors, ","))
	})
}
