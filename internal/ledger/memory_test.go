package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
)

func testRun(id string, status domain.RunStatus) domain.Run {
	return domain.Run{
		ID:         id,
		EntryPoint: "train",
		Status:     status,
		CreatedAt:  time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLedgerRunLifecycle(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	if err := l.CreateRun(ctx, testRun("r1", domain.RunStatusPending)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.CreateRun(ctx, testRun("r1", domain.RunStatusPending)); err == nil {
		t.Fatal("duplicate run id must be rejected")
	}

	if err := l.UpdateRunStatus(ctx, "r1", domain.RunStatusRunning, "", nil); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	ended := time.Date(2026, 2, 1, 9, 5, 0, 0, time.UTC)
	if err := l.UpdateRunStatus(ctx, "r1", domain.RunStatusSucceeded, "", &ended); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	if err := l.UpdateRunStatus(ctx, "r1", domain.RunStatusFailed, "late", nil); !errors.Is(err, ErrImmutable) {
		t.Fatalf("terminal run must be immutable, got %v", err)
	}
	if err := l.SetRunMetrics(ctx, "r1", domain.Metadata{"accuracy": 1.0}); !errors.Is(err, ErrImmutable) {
		t.Fatalf("terminal run metrics must be immutable, got %v", err)
	}

	run, err := l.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded || run.EndedAt == nil {
		t.Fatalf("unexpected run: %+v", run)
	}

	if _, err := l.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMemoryLedgerListRunsFilters(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	_ = l.CreateRun(ctx, testRun("r1", domain.RunStatusSucceeded))
	_ = l.CreateRun(ctx, testRun("r2", domain.RunStatusFailed))
	other := testRun("r3", domain.RunStatusSucceeded)
	other.EntryPoint = "infer"
	_ = l.CreateRun(ctx, other)

	runs, err := l.ListRuns(ctx, RunFilter{EntryPoint: "train"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("train runs = %d, want 2", len(runs))
	}

	runs, _ = l.ListRuns(ctx, RunFilter{Status: domain.RunStatusFailed})
	if len(runs) != 1 || runs[0].ID != "r2" {
		t.Fatalf("failed runs = %+v, want [r2]", runs)
	}

	runs, _ = l.ListRuns(ctx, RunFilter{Limit: 1})
	if len(runs) != 1 || runs[0].ID != "r3" {
		t.Fatalf("limit 1 = %+v, want newest first", runs)
	}
}

func TestMemoryLedgerArtifactImmutability(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	artifact := domain.Artifact{
		RunID:      "r1",
		TarName:    "out.tar.gz",
		FolderName: "data",
		SHA256:     "abc",
		SizeBytes:  10,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.AppendArtifact(ctx, artifact); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Re-appending the identical record is idempotent.
	if err := l.AppendArtifact(ctx, artifact); err != nil {
		t.Fatalf("idempotent append: %v", err)
	}

	changed := artifact
	changed.SHA256 = "def"
	if err := l.AppendArtifact(ctx, changed); err == nil {
		t.Fatal("mutating an existing artifact must be rejected")
	}

	if _, err := l.GetArtifact(ctx, "r1", "out.tar.gz", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	records, err := l.ListArtifacts(ctx, "r1")
	if err != nil || len(records) != 1 {
		t.Fatalf("list artifacts = %v, %v", records, err)
	}
}

func TestMemoryLedgerConcurrentWriters(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			if err := l.CreateRun(ctx, testRun(id, domain.RunStatusPending)); err != nil {
				errs <- err
				return
			}
			ended := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
			if err := l.UpdateRunStatus(ctx, id, domain.RunStatusSucceeded, "", &ended); err != nil {
				errs <- err
				return
			}
			errs <- l.AppendArtifact(ctx, domain.Artifact{
				RunID: id, TarName: "out.tar.gz", FolderName: "data",
				SHA256: "abc", SizeBytes: 1, CreatedAt: ended,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent writer: %v", err)
		}
	}

	runs, err := l.ListRuns(ctx, RunFilter{Status: domain.RunStatusSucceeded})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != writers {
		t.Fatalf("runs = %d, want %d", len(runs), writers)
	}
	for i := 0; i < writers; i++ {
		records, err := l.ListArtifacts(ctx, fmt.Sprintf("r%d", i))
		if err != nil || len(records) != 1 {
			t.Fatalf("artifacts for r%d = %v, %v", i, records, err)
		}
	}
}
