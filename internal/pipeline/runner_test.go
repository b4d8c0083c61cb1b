package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

type stubResolver struct {
	ds  *imageset.Dataset
	err error
}

func (s *stubResolver) Resolve(ctx context.Context, ref domain.DatasetRef) (*imageset.Dataset, func(), error) {
	if s.err != nil {
		return nil, func() {}, s.err
	}
	return s.ds, func() {}, nil
}

type stubRegistry struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (s *stubRegistry) Put(ctx context.Context, name string, arch domain.Architecture, blob []byte) (domain.ModelVersion, error) {
	if s.err != nil {
		return domain.ModelVersion{}, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, name)
	return domain.ModelVersion{Name: name, Version: len(s.puts), Architecture: arch, SHA256: "stub", CreatedAt: time.Now()}, nil
}

func (s *stubRegistry) Get(ctx context.Context, ref domain.ModelRef) ([]byte, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *stubRegistry) Latest(ctx context.Context, name string) (int, error) {
	return 0, errors.New("not implemented")
}

func testEntryPoints(stageErr error) []EntryPoint {
	return []EntryPoint{
		{
			Name: "publish",
			Schema: Schema{Params: []ParamSpec{
				{Name: "label", Kind: KindString, Required: true},
				{Name: "seed", Kind: KindInt, Default: 0},
			}},
			Run: func(ctx context.Context, sc StageContext) (StageResult, error) {
				if stageErr != nil {
					return StageResult{}, stageErr
				}
				return StageResult{
					Metrics: domain.Metadata{"accuracy": 1.0},
					Tarballs: []PendingTarball{{
						TarName: "out.tar.gz",
						Folders: []artifacts.Folder{{
							Name:  "data",
							Files: []artifacts.File{{Path: "a.txt", Data: []byte(sc.Params.String("label"))}},
						}},
					}},
					Models: []PendingModel{{Name: "m", Architecture: domain.ArchLeNet, Blob: []byte("{}")}},
				}, nil
			},
		},
		{
			Name:   "chained",
			Schema: Schema{Params: []ParamSpec{{Name: "run_id", Kind: KindString, Required: true}}},
			InputRunIDs: func(p Params) []string {
				return []string{p.String("run_id")}
			},
			Run: func(ctx context.Context, sc StageContext) (StageResult, error) {
				return StageResult{}, nil
			},
		},
	}
}

func newTestRunner(t *testing.T, stageErr error) (*Runner, *ledger.MemoryLedger, *artifacts.Store, *stubRegistry) {
	t.Helper()
	runLedger := ledger.NewMemoryLedger()
	store, err := artifacts.NewStore(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	registry := &stubRegistry{}
	runner, err := NewRunner(testEntryPoints(stageErr), runLedger, store, registry, &stubResolver{}, slog.Default())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	id := 0
	runner.newID = func() string {
		id++
		return fmt.Sprintf("run-%d", id)
	}
	runner.now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return runner, runLedger, store, registry
}

func TestExecuteSuccess(t *testing.T) {
	runner, runLedger, store, registry := newTestRunner(t, nil)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "publish", map[string]any{"label": "hello"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", run.Status)
	}
	if run.Metrics["accuracy"] != 1.0 {
		t.Fatalf("metrics not recorded: %v", run.Metrics)
	}
	if run.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
	if len(registry.puts) != 1 || registry.puts[0] != "m" {
		t.Fatalf("model not registered: %v", registry.puts)
	}

	record, err := runLedger.GetArtifact(ctx, run.ID, "out.tar.gz", "data")
	if err != nil {
		t.Fatalf("artifact not recorded: %v", err)
	}
	if record.SHA256 == "" || record.SizeBytes == 0 {
		t.Fatalf("artifact record incomplete: %+v", record)
	}
	files, err := store.GetFolder(ctx, run.ID, "out.tar.gz", "data")
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if len(files) != 1 || string(files[0].Data) != "hello" {
		t.Fatalf("folder content mismatch: %+v", files)
	}
}

func TestExecuteValidationFailureAppendsFailedRun(t *testing.T) {
	runner, runLedger, store, _ := newTestRunner(t, nil)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "publish", map[string]any{})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Param != "label" {
		t.Fatalf("want validation error on label, got %v", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}

	runs, err := runLedger.ListRuns(ctx, ledger.RunFilter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ledger entries = %d, want exactly 1", len(runs))
	}
	if runs[0].Error == "" {
		t.Fatal("validation failure not captured on the run")
	}
	if _, err := store.GetTarball(ctx, run.ID, "out.tar.gz"); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("artifact must not exist after validation failure, got %v", err)
	}
}

func TestExecuteUnknownEntryPoint(t *testing.T) {
	runner, runLedger, _, _ := newTestRunner(t, nil)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "nope", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want validation error, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.EntryPoint != "nope" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	runs, _ := runLedger.ListRuns(ctx, ledger.RunFilter{})
	if len(runs) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(runs))
	}
}

func TestExecuteStageFailure(t *testing.T) {
	runner, _, store, registry := newTestRunner(t, errors.New("kaboom"))
	ctx := context.Background()

	run, err := runner.Execute(ctx, "publish", map[string]any{"label": "x"})
	var stageErr *StageExecutionError
	if !errors.As(err, &stageErr) {
		t.Fatalf("want StageExecutionError, got %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.Error == "" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	if len(registry.puts) != 0 {
		t.Fatalf("models must not be registered on failure: %v", registry.puts)
	}
	if _, err := store.GetTarball(ctx, run.ID, "out.tar.gz"); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("artifacts must not be committed on failure, got %v", err)
	}
}

func TestExecuteRejectsNonSucceededInputs(t *testing.T) {
	runner, _, _, _ := newTestRunner(t, nil)
	ctx := context.Background()

	run, err := runner.Execute(ctx, "chained", map[string]any{"run_id": "missing-run"})
	var stageErr *StageExecutionError
	if !errors.As(err, &stageErr) {
		t.Fatalf("want StageExecutionError, got %v", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}

	good, err := runner.Execute(ctx, "publish", map[string]any{"label": "x"})
	if err != nil {
		t.Fatalf("execute publish: %v", err)
	}
	if _, err := runner.Execute(ctx, "chained", map[string]any{"run_id": good.ID}); err != nil {
		t.Fatalf("chained run against SUCCEEDED input: %v", err)
	}
}

func TestCommitFailureLeavesNoArtifactIndex(t *testing.T) {
	runLedger := ledger.NewMemoryLedger()
	store, err := artifacts.NewStore(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	registry := &stubRegistry{err: errors.New("registry down")}
	runner, err := NewRunner(testEntryPoints(nil), runLedger, store, registry, &stubResolver{}, slog.Default())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx := context.Background()

	// The registry fails after the tarball upload, so the commit dies
	// midway through.
	run, err := runner.Execute(ctx, "publish", map[string]any{"label": "x"})
	var stageErr *StageExecutionError
	if !errors.As(err, &stageErr) {
		t.Fatalf("want StageExecutionError, got %v", err)
	}
	if run.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", run.Status)
	}

	rows, err := runLedger.ListArtifacts(ctx, run.ID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("FAILED run must not list artifacts, got %+v", rows)
	}
	if _, err := runLedger.GetArtifact(ctx, run.ID, "out.tar.gz", "data"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("artifact row must not exist for FAILED run, got %v", err)
	}
}

func TestExecuteConcurrentIndependentRuns(t *testing.T) {
	runLedger := ledger.NewMemoryLedger()
	store, err := artifacts.NewStore(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runner, err := NewRunner(testEntryPoints(nil), runLedger, store, &stubRegistry{}, &stubResolver{}, slog.Default())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx := context.Background()

	const workers = 8
	type outcome struct {
		label string
		run   domain.Run
		err   error
	}
	results := make(chan outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := fmt.Sprintf("label-%d", i)
			run, err := runner.Execute(ctx, "publish", map[string]any{"label": label})
			results <- outcome{label: label, run: run, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{})
	for res := range results {
		if res.err != nil {
			t.Fatalf("execute %s: %v", res.label, res.err)
		}
		if res.run.Status != domain.RunStatusSucceeded {
			t.Fatalf("%s status = %s, want SUCCEEDED", res.label, res.run.Status)
		}
		if _, dup := seen[res.run.ID]; dup {
			t.Fatalf("duplicate run id %s", res.run.ID)
		}
		seen[res.run.ID] = struct{}{}

		files, err := store.GetFolder(ctx, res.run.ID, "out.tar.gz", "data")
		if err != nil {
			t.Fatalf("get folder for %s: %v", res.label, err)
		}
		if len(files) != 1 || string(files[0].Data) != res.label {
			t.Fatalf("folder content for %s mismatch: %+v", res.label, files)
		}
	}
	runs, err := runLedger.ListRuns(ctx, ledger.RunFilter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != workers {
		t.Fatalf("ledger entries = %d, want %d", len(runs), workers)
	}
}
