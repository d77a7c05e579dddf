package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

// DefaultTimeout is the HTTP timeout of every credential's client
const DefaultTimeout = 30 * time.Second

// ClientFactory builds the API client bound to one token
type ClientFactory func(token string) *github.Client

// NewClientFactory returns a factory producing oauth2-authenticated clients
// rooted at baseURL. An empty baseURL keeps the public GitHub API.
func NewClientFactory(baseURL string) (ClientFactory, error) {
	var base *url.URL
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", baseURL, err)
		}
		base = u
	}

	return func(token string) *github.Client {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		tc.Timeout = DefaultTimeout
		client := github.NewClient(tc)
		if base != nil {
			client.BaseURL = base
		}
		return client
	}, nil
}

// Credential is one token of the credential set together with its client
type Credential struct {
	Index  int
	client *github.Client
}

// Client returns the API client that authenticates with this credential
func (c *Credential) Client() *github.Client {
	return c.client
}

// Rotator holds an ordered credential set and the active cursor.
// All methods are safe for concurrent use.
type Rotator struct {
	mu        sync.Mutex
	creds     []*Credential
	active    int
	rotations int
}

// NewRotator creates a rotator over tokens, building one client per token
func NewRotator(tokens []string, newClient ClientFactory) (*Rotator, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("at least one credential is required")
	}
	creds := make([]*Credential, len(tokens))
	for i, token := range tokens {
		creds[i] = &Credential{Index: i, client: newClient(token)}
	}
	return &Rotator{creds: creds}, nil
}

// Len returns the number of credentials
func (r *Rotator) Len() int {
	return len(r.creds)
}

// Current returns the active credential
func (r *Rotator) Current() *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[r.active]
}

// Rotate advances the cursor cyclically and returns the new active credential
func (r *Rotator) Rotate() *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advance()
}

// RotateFrom advances the cursor only if from is still the active credential.
// Concurrent tasks that saw the same exhausted credential rotate once between them.
func (r *Rotator) RotateFrom(from *Credential) *Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creds[r.active] != from {
		return r.creds[r.active]
	}
	return r.advance()
}

// Rotations returns how many times the cursor has moved
func (r *Rotator) Rotations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

func (r *Rotator) advance() *Credential {
	r.active = (r.active + 1) % len(r.creds)
	r.rotations++
	return r.creds[r.active]
}
