package domain

import "time"

// RunStatus is the lifecycle state of a collection run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusStopped    RunStatus = "stopped"
	RunStatusFailed     RunStatus = "failed"
)

// CollectionRun records one invocation of the collector against a repository
type CollectionRun struct {
	ID         string             `json:"id"`
	Repository Repository         `json:"repository"`
	Window     DateWindow         `json:"window"`
	Kinds      []EntityKind       `json:"kinds"`
	Status     RunStatus          `json:"status"`
	Counts     map[EntityKind]int `json:"counts"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Finished reports whether the run reached a terminal status
func (r *CollectionRun) Finished() bool {
	return r.Status != RunStatusInProgress
}
