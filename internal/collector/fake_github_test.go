package collector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/repo-harvester/internal/logger"
)

// fakeGitHub is an httptest server standing in for the REST API.
// It records every request before handing it to the handler.
type fakeGitHub struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Path  string
	Query map[string][]string
	Auth  string
}

func newFakeGitHub(t *testing.T, handler http.HandlerFunc) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Path:  r.URL.Path,
			Query: r.URL.Query(),
			Auth:  r.Header.Get("Authorization"),
		})
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) session(t *testing.T, tokens ...string) *Session {
	t.Helper()
	factory, err := NewClientFactory(f.server.URL)
	require.NoError(t, err)
	rot, err := NewRotator(tokens, factory)
	require.NoError(t, err)
	return NewSession(rot)
}

func (f *fakeGitHub) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

// count returns the number of requests whose path ends with suffix
func (f *fakeGitHub) count(suffix string) int {
	n := 0
	for _, r := range f.recorded() {
		if strings.HasSuffix(r.Path, suffix) {
			n++
		}
	}
	return n
}

func testFetcher() *Fetcher {
	f := NewFetcher(LowLimitThreshold, logger.Discard())
	f.backoff = time.Millisecond
	return f
}

func setRate(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setLastPage advertises a rel="last" link pointing at page last
func setLastPage(w http.ResponseWriter, r *http.Request, last int) {
	u := fmt.Sprintf("http://%s%s?per_page=1&page=%d", r.Host, r.URL.Path, last)
	next := fmt.Sprintf("http://%s%s?per_page=1&page=2", r.Host, r.URL.Path)
	w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s>; rel="last"`, next, u))
}

func rateLimited(w http.ResponseWriter) {
	setRate(w, 0)
	writeJSON(w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded for user."})
}

func isProbe(r *http.Request) bool {
	return r.URL.Query().Get("per_page") == "1"
}
