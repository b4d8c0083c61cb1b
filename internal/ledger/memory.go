package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
)

// MemoryLedger is an in-process RunLedger for tests and local mode.
type MemoryLedger struct {
	mu        sync.RWMutex
	runs      map[string]domain.Run
	artifacts map[string]domain.Artifact
	order     []string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		runs:      make(map[string]domain.Run),
		artifacts: make(map[string]domain.Artifact),
	}
}

func (l *MemoryLedger) CreateRun(ctx context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	run.Params = run.Params.Clone()
	run.Metrics = run.Metrics.Clone()
	l.runs[run.ID] = run
	l.order = append(l.order, run.ID)
	return nil
}

func (l *MemoryLedger) GetRun(ctx context.Context, id string) (domain.Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	run, ok := l.runs[id]
	if !ok {
		return domain.Run{}, ErrNotFound
	}
	return run, nil
}

func (l *MemoryLedger) ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Run, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		run := l.runs[l.order[i]]
		if filter.EntryPoint != "" && run.EntryPoint != filter.EntryPoint {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, run)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, runErr string, endedAt *time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid run status %q", status)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrImmutable
	}
	run.Status = status
	run.Error = runErr
	if endedAt != nil {
		ended := endedAt.UTC()
		run.EndedAt = &ended
	}
	l.runs[id] = run
	return nil
}

func (l *MemoryLedger) SetRunMetrics(ctx context.Context, id string, metrics domain.Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrImmutable
	}
	run.Metrics = metrics.Clone()
	l.runs[id] = run
	return nil
}

func (l *MemoryLedger) AppendArtifact(ctx context.Context, artifact domain.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return err
	}
	key := artifactKey(artifact.RunID, artifact.TarName, artifact.FolderName)
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.artifacts[key]; ok {
		return domain.EnsureArtifactImmutable(existing, artifact)
	}
	l.artifacts[key] = artifact
	return nil
}

func (l *MemoryLedger) GetArtifact(ctx context.Context, runID, tarName, folderName string) (domain.Artifact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	artifact, ok := l.artifacts[artifactKey(runID, tarName, folderName)]
	if !ok {
		return domain.Artifact{}, ErrNotFound
	}
	return artifact, nil
}

func (l *MemoryLedger) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Artifact, 0)
	for _, artifact := range l.artifacts {
		if artifact.RunID == runID {
			out = append(out, artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TarName != out[j].TarName {
			return out[i].TarName < out[j].TarName
		}
		return out[i].FolderName < out[j].FolderName
	})
	return out, nil
}

func artifactKey(runID, tarName, folderName string) string {
	return runID + "/" + tarName + "/" + folderName
}
