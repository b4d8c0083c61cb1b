package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
)

// DatasetResolver resolves dataset references for stages.
type DatasetResolver interface {
	Resolve(ctx context.Context, ref domain.DatasetRef) (*imageset.Dataset, func(), error)
}

// ModelRegistry is the registry contract stages and the runner use.
type ModelRegistry interface {
	Put(ctx context.Context, name string, arch domain.Architecture, blob []byte) (domain.ModelVersion, error)
	Get(ctx context.Context, ref domain.ModelRef) ([]byte, int, error)
	Latest(ctx context.Context, name string) (int, error)
}

// StageContext carries the resolved collaborators a stage may read from.
// Stages never persist outputs themselves; they return them pending.
type StageContext struct {
	RunID    string
	Params   Params
	Resolver DatasetResolver
	Models   ModelRegistry
	Logger   *slog.Logger
}

// PendingTarball is a dataset artifact awaiting the all-or-nothing
// commit after stage success.
type PendingTarball struct {
	TarName string
	Folders []artifacts.Folder
}

// PendingModel is a model registration awaiting commit.
type PendingModel struct {
	Name         string
	Architecture domain.Architecture
	Blob         []byte
}

// StageResult is everything a transform stage produces.
type StageResult struct {
	Metrics  domain.Metadata
	Tarballs []PendingTarball
	Models   []PendingModel
}

// StageFunc executes one transform stage against validated parameters.
type StageFunc func(ctx context.Context, sc StageContext) (StageResult, error)

// EntryPoint is a named, schema-bound unit of work.
type EntryPoint struct {
	Name        string
	Schema      Schema
	InputRunIDs func(p Params) []string
	Run         StageFunc
}

// Runner validates parameters, executes transform stages and commits
// their outputs, recording every invocation in the run ledger.
type Runner struct {
	entryPoints map[string]EntryPoint
	ledger      ledger.RunLedger
	artifacts   *artifacts.Store
	registry    ModelRegistry
	resolver    DatasetResolver
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewRunner(entryPoints []EntryPoint, runLedger ledger.RunLedger, artifactStore *artifacts.Store, registry ModelRegistry, resolver DatasetResolver, logger *slog.Logger) (*Runner, error) {
	if len(entryPoints) == 0 {
		return nil, errors.New("at least one entry point is required")
	}
	if runLedger == nil {
		return nil, errors.New("run ledger is required")
	}
	if artifactStore == nil {
		return nil, errors.New("artifact store is required")
	}
	if registry == nil {
		return nil, errors.New("model registry is required")
	}
	if resolver == nil {
		return nil, errors.New("dataset resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]EntryPoint, len(entryPoints))
	for _, ep := range entryPoints {
		if ep.Name == "" || ep.Run == nil {
			return nil, fmt.Errorf("entry point %q is incomplete", ep.Name)
		}
		if _, ok := byName[ep.Name]; ok {
			return nil, fmt.Errorf("duplicate entry point %q", ep.Name)
		}
		byName[ep.Name] = ep
	}
	return &Runner{
		entryPoints: byName,
		ledger:      runLedger,
		artifacts:   artifactStore,
		registry:    registry,
		resolver:    resolver,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// EntryPointNames lists the registered entry points.
func (r *Runner) EntryPointNames() []string {
	names := make([]string, 0, len(r.entryPoints))
	for name := range r.entryPoints {
		names = append(names, name)
	}
	return names
}

// Execute runs one entry point invocation to completion. It returns the
// ledger record of the run; on failure the record is FAILED and the
// error describes the cause. Exactly one ledger entry is appended per
// invocation, whatever the outcome.
func (r *Runner) Execute(ctx context.Context, entryPoint string, raw map[string]any) (domain.Run, error) {
	ep, ok := r.entryPoints[entryPoint]
	if !ok {
		verr := &ValidationError{Param: "entry_point", Constraint: fmt.Sprintf("unknown entry point %q", entryPoint)}
		run := r.appendFailedValidation(ctx, entryPoint, nil, verr)
		return run, verr
	}

	params, verr := ep.Schema.Validate(raw)
	if verr != nil {
		run := r.appendFailedValidation(ctx, entryPoint, raw, verr)
		return run, verr
	}

	var inputRunIDs []string
	if ep.InputRunIDs != nil {
		inputRunIDs = ep.InputRunIDs(params)
	}

	run := domain.Run{
		ID:          r.newID(),
		EntryPoint:  entryPoint,
		Params:      domain.Metadata(params),
		InputRunIDs: inputRunIDs,
		Status:      domain.RunStatusPending,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.ledger.CreateRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	r.logger.Info("run created", "run_id", run.ID, "entry_point", entryPoint)

	for _, inputID := range inputRunIDs {
		if err := r.requireSucceeded(ctx, inputID); err != nil {
			return r.fail(ctx, run, err)
		}
	}

	if err := r.ledger.UpdateRunStatus(ctx, run.ID, domain.RunStatusRunning, "", nil); err != nil {
		return r.fail(ctx, run, fmt.Errorf("mark running: %w", err))
	}

	result, err := ep.Run(ctx, StageContext{
		RunID:    run.ID,
		Params:   params,
		Resolver: r.resolver,
		Models:   r.registry,
		Logger:   r.logger.With("run_id", run.ID, "entry_point", entryPoint),
	})
	if err != nil {
		return r.fail(ctx, run, err)
	}

	// All-or-nothing commit: outputs are persisted only after the stage
	// finished, and become resolvable only once the run is SUCCEEDED.
	if err := r.commit(ctx, run.ID, result); err != nil {
		return r.fail(ctx, run, err)
	}

	ended := r.now().UTC()
	if err := r.ledger.UpdateRunStatus(ctx, run.ID, domain.RunStatusSucceeded, "", &ended); err != nil {
		return domain.Run{}, fmt.Errorf("mark succeeded: %w", err)
	}
	r.logger.Info("run succeeded", "run_id", run.ID, "entry_point", entryPoint)

	final, err := r.ledger.GetRun(ctx, run.ID)
	if err != nil {
		return domain.Run{}, err
	}
	return final, nil
}

func (r *Runner) commit(ctx context.Context, runID string, result StageResult) error {
	// Index rows are appended last: a commit that dies midway must not
	// leave artifacts listed for a run that will end FAILED. An orphaned
	// blob in the object store stays unreachable, an index row would not.
	var records []domain.Artifact
	for _, tarball := range result.Tarballs {
		recs, err := r.artifacts.PutTarball(ctx, runID, tarball.TarName, tarball.Folders)
		if err != nil {
			return fmt.Errorf("persist artifact %s: %w", tarball.TarName, err)
		}
		records = append(records, recs...)
	}
	for _, pending := range result.Models {
		version, err := r.registry.Put(ctx, pending.Name, pending.Architecture, pending.Blob)
		if err != nil {
			return fmt.Errorf("register model %s: %w", pending.Name, err)
		}
		r.logger.Info("model registered", "run_id", runID, "name", version.Name, "version", version.Version)
	}
	if len(result.Metrics) > 0 {
		if err := r.ledger.SetRunMetrics(ctx, runID, result.Metrics); err != nil {
			return fmt.Errorf("record metrics: %w", err)
		}
	}
	for _, record := range records {
		if err := r.ledger.AppendArtifact(ctx, record); err != nil {
			return fmt.Errorf("record artifact %s/%s: %w", record.TarName, record.FolderName, err)
		}
	}
	return nil
}

func (r *Runner) requireSucceeded(ctx context.Context, runID string) error {
	input, err := r.ledger.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("input run %s does not exist", runID)
		}
		return err
	}
	if input.Status != domain.RunStatusSucceeded {
		return fmt.Errorf("input run %s has status %s, want SUCCEEDED", runID, input.Status)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, run domain.Run, cause error) (domain.Run, error) {
	wrapped := &StageExecutionError{EntryPoint: run.EntryPoint, RunID: run.ID, Err: cause}
	ended := r.now().UTC()
	if err := r.ledger.UpdateRunStatus(ctx, run.ID, domain.RunStatusFailed, cause.Error(), &ended); err != nil {
		r.logger.Error("mark failed", "run_id", run.ID, "error", err)
	}
	r.logger.Error("run failed", "run_id", run.ID, "entry_point", run.EntryPoint, "error", cause)
	final, err := r.ledger.GetRun(ctx, run.ID)
	if err != nil {
		final = run
		final.Status = domain.RunStatusFailed
		final.Error = cause.Error()
	}
	return final, wrapped
}

// appendFailedValidation records the invocation without starting any
// stage work. The run is created directly in FAILED state.
func (r *Runner) appendFailedValidation(ctx context.Context, entryPoint string, raw map[string]any, verr *ValidationError) domain.Run {
	if entryPoint == "" {
		entryPoint = "unknown"
	}
	ended := r.now().UTC()
	run := domain.Run{
		ID:         r.newID(),
		EntryPoint: entryPoint,
		Params:     domain.Metadata(raw),
		Status:     domain.RunStatusFailed,
		Error:      verr.Error(),
		CreatedAt:  ended,
		EndedAt:    &ended,
	}
	if err := r.ledger.CreateRun(ctx, run); err != nil {
		r.logger.Error("record validation failure", "entry_point", entryPoint, "error", err)
	}
	return run
}
