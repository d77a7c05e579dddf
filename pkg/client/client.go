package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	"github.com/kurihiro0119/repo-harvester/internal/jobs"
)

// Client is the API client for repo-harvester
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CollectionRequest asks the server to collect a repository
type CollectionRequest struct {
	RepositoryURL string   `json:"repository_url"`
	Start         string   `json:"start"`
	End           string   `json:"end"`
	Kinds         []string `json:"kinds,omitempty"`
}

// APIError is an error answered by the server
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d - %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error: %d %s - %s", e.Status, e.Code, e.Message)
}

// StartCollection starts a background collection
func (c *Client) StartCollection(ctx context.Context, req CollectionRequest) (*jobs.Snapshot, error) {
	var response struct {
		Data *jobs.Snapshot `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections", nil, req, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetCollection retrieves a collection job or stored run
func (c *Client) GetCollection(ctx context.Context, id string) (*jobs.Snapshot, error) {
	var response struct {
		Data *jobs.Snapshot `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+url.PathEscape(id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListCollections retrieves the jobs known to the server
func (c *Client) ListCollections(ctx context.Context) ([]jobs.Snapshot, error) {
	var response struct {
		Data []jobs.Snapshot `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// StopCollection asks the server to stop a job
func (c *Client) StopCollection(ctx context.Context, id string) (*jobs.Snapshot, error) {
	var response struct {
		Data *jobs.Snapshot `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/stop", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// WaitForCollection polls a job every interval until it is done
func (c *Client) WaitForCollection(ctx context.Context, id string, interval time.Duration) (*jobs.Snapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.GetCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap.Done {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetRepoStats retrieves stats over the stored records of a repository
func (c *Client) GetRepoStats(ctx context.Context, repo domain.Repository) (*domain.RepositoryStats, error) {
	var response struct {
		Data *domain.RepositoryStats `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "stats"), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepoRuns retrieves the latest collection runs of a repository
func (c *Client) GetRepoRuns(ctx context.Context, repo domain.Repository, limit int) ([]*domain.CollectionRun, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CollectionRun `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "runs"), params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepoActivity retrieves stored records bucketed by period
func (c *Client) GetRepoActivity(ctx context.Context, repo domain.Repository, window domain.DateWindow, granularity string) (*domain.Activity, error) {
	params := url.Values{}
	params.Set("start", window.Start.Format(domain.DateLayout))
	params.Set("end", window.End.Format(domain.DateLayout))
	if granularity != "" {
		params.Set("granularity", granularity)
	}

	var response struct {
		Data *domain.Activity `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, repoPath(repo, "activity"), params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func repoPath(repo domain.Repository, resource string) string {
	return fmt.Sprintf("/api/v1/repos/%s/%s/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), resource)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Message: string(raw)}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
