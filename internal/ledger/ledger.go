package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
)

// ErrNotFound is returned when a run or artifact record does not exist.
var ErrNotFound = errors.New("not found")

// ErrImmutable is returned on attempts to modify a terminal run.
var ErrImmutable = errors.New("run is immutable once terminal")

// RunFilter narrows ListRuns results.
type RunFilter struct {
	EntryPoint string
	Status     domain.RunStatus
	Limit      int
}

// RunLedger is the append-only record of pipeline runs. Run identity and
// parameters never change after creation; only status, error, metrics and
// the end timestamp may be set, and only until the run turns terminal.
type RunLedger interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, runErr string, endedAt *time.Time) error
	SetRunMetrics(ctx context.Context, id string, metrics domain.Metadata) error

	// Artifact index: records published artifacts per run.
	AppendArtifact(ctx context.Context, artifact domain.Artifact) error
	GetArtifact(ctx context.Context, runID, tarName, folderName string) (domain.Artifact, error)
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)
}
