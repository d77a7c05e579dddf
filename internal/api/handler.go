package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
	"github.com/kurihiro0119/repo-harvester/internal/jobs"
)

// Handler handles API requests
type Handler struct {
	jobs       *jobs.Manager
	aggregator aggregator.Aggregator
}

// NewHandler creates a new API handler
func NewHandler(manager *jobs.Manager, agg aggregator.Aggregator) *Handler {
	return &Handler{
		jobs:       manager,
		aggregator: agg,
	}
}

// CollectionRequest is the body of POST /api/v1/collections. Kinds may be
// given as a list, as flags, or both.
type CollectionRequest struct {
	RepositoryURL string   `json:"repository_url" binding:"required"`
	Start         string   `json:"start" binding:"required"`
	End           string   `json:"end" binding:"required"`
	Kinds         []string `json:"kinds"`
	Commits       bool     `json:"commits"`
	Issues        bool     `json:"issues"`
	PullRequests  bool     `json:"pull_requests"`
	Branches      bool     `json:"branches"`
}

func (r CollectionRequest) jobRequest() jobs.Request {
	var kinds []domain.EntityKind
	for _, k := range r.Kinds {
		kinds = append(kinds, domain.EntityKind(k))
	}
	flags := []struct {
		on   bool
		kind domain.EntityKind
	}{
		{r.Commits, domain.KindCommit},
		{r.Issues, domain.KindIssue},
		{r.PullRequests, domain.KindPullRequest},
		{r.Branches, domain.KindBranch},
	}
	for _, f := range flags {
		if f.on {
			kinds = append(kinds, f.kind)
		}
	}
	return jobs.Request{RepositoryURL: r.RepositoryURL, Start: r.Start, End: r.End, Kinds: kinds}
}

// StartCollection starts a background collection
// POST /api/v1/collections
func (h *Handler) StartCollection(c *gin.Context) {
	var body CollectionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	job, err := h.jobs.Start(body.jobRequest())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": job.Snapshot(),
	})
}

// ListCollections returns the jobs of this server, newest first
// GET /api/v1/collections
func (h *Handler) ListCollections(c *gin.Context) {
	list := h.jobs.List()
	snapshots := make([]jobs.Snapshot, 0, len(list))
	for _, job := range list {
		snapshots = append(snapshots, job.Snapshot())
	}

	c.JSON(http.StatusOK, gin.H{
		"data": snapshots,
	})
}

// GetCollection returns a job, or the stored run when the job is not known
// to this server
// GET /api/v1/collections/:id
func (h *Handler) GetCollection(c *gin.Context) {
	id := c.Param("id")

	job, err := h.jobs.Get(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"data": job.Snapshot(),
		})
		return
	}

	run, err := h.aggregator.Run(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": jobs.Snapshot{ID: run.ID, Run: *run, Done: run.Finished()},
	})
}

// StopCollection sets the stop flag of a job
// POST /api/v1/collections/:id/stop
func (h *Handler) StopCollection(c *gin.Context) {
	job, err := h.jobs.Stop(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": job.Snapshot(),
	})
}

// GetRepoStats returns stats over the stored records of a repository
// GET /api/v1/repos/:owner/:repo/stats
func (h *Handler) GetRepoStats(c *gin.Context) {
	stats, err := h.aggregator.RepositoryStats(c.Request.Context(), repoParam(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// GetRepoRuns returns the latest collection runs of a repository
// GET /api/v1/repos/:owner/:repo/runs
func (h *Handler) GetRepoRuns(c *gin.Context) {
	runs, err := h.aggregator.Runs(c.Request.Context(), repoParam(c), parseIntQuery(c, "limit", 20))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRepoActivity returns stored records bucketed by period
// GET /api/v1/repos/:owner/:repo/activity?start=&end=&granularity=
func (h *Handler) GetRepoActivity(c *gin.Context) {
	window, err := domain.NewDateWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}
	granularity, err := aggregator.ParseGranularity(c.Query("granularity"))
	if err != nil {
		respondError(c, err)
		return
	}

	activity, err := h.aggregator.Activity(c.Request.Context(), repoParam(c), window, granularity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": activity,
	})
}

func repoParam(c *gin.Context) domain.Repository {
	return domain.Repository{Owner: c.Param("owner"), Name: c.Param("repo")}
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	if v := c.Query(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeForbidden:
			status = http.StatusForbidden
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}
