package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run is one execution of an entry point with concrete parameters.
// A run is immutable once it reaches a terminal status.
type Run struct {
	ID          string
	EntryPoint  string
	Params      Metadata
	InputRunIDs []string
	Status      RunStatus
	Error       string
	Metrics     Metadata
	CreatedAt   time.Time
	EndedAt     *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.EntryPoint) == "" {
		return errors.New("entry point is required")
	}
	if !r.Status.Valid() {
		return errors.New("invalid run status")
	}
	return nil
}
