// Package dataset resolves dataset references into local in-memory
// dataset handles. Directory references load straight from disk;
// artifact references fetch a prior run's tarball, expand it into a
// scoped temporary location, and release it on every exit path.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
)

// Resolver turns DatasetRefs into dataset handles. Resolution never
// mutates the artifact store.
type Resolver struct {
	ledger    ledger.RunLedger
	artifacts *artifacts.Store
}

func New(runLedger ledger.RunLedger, artifactStore *artifacts.Store) (*Resolver, error) {
	if runLedger == nil {
		return nil, errors.New("run ledger is required")
	}
	if artifactStore == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Resolver{ledger: runLedger, artifacts: artifactStore}, nil
}

// Resolve produces a dataset handle and a cleanup function releasing any
// temporary expansion. The cleanup is safe to call on all exit paths.
func (r *Resolver) Resolve(ctx context.Context, ref domain.DatasetRef) (*imageset.Dataset, func(), error) {
	noop := func() {}
	if err := ref.Validate(); err != nil {
		return nil, noop, err
	}
	switch ref.Kind {
	case domain.DatasetRefDirectory:
		ds, err := r.resolveDirectory(ref.Path)
		return ds, noop, err
	case domain.DatasetRefArtifact:
		return r.resolveArtifact(ctx, ref)
	default:
		return nil, noop, fmt.Errorf("unsupported dataset ref kind %q", ref.Kind)
	}
}

func (r *Resolver) resolveDirectory(path string) (*imageset.Dataset, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, &pipeline.DataNotFoundError{Path: path}
	}
	ds, err := imageset.LoadDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if ds.Len() == 0 {
		return nil, &pipeline.DataNotFoundError{Path: path}
	}
	return ds, nil
}

func (r *Resolver) resolveArtifact(ctx context.Context, ref domain.DatasetRef) (*imageset.Dataset, func(), error) {
	noop := func() {}
	notFound := func(reason string) error {
		return &pipeline.ArtifactNotFoundError{
			RunID:      ref.RunID,
			TarName:    ref.TarName,
			FolderName: ref.FolderName,
			Reason:     reason,
		}
	}

	run, err := r.ledger.GetRun(ctx, ref.RunID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, noop, notFound("run does not exist")
		}
		return nil, noop, err
	}
	if run.Status != domain.RunStatusSucceeded {
		return nil, noop, notFound(fmt.Sprintf("run status is %s, not SUCCEEDED", run.Status))
	}
	if _, err := r.ledger.GetArtifact(ctx, ref.RunID, ref.TarName, ref.FolderName); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, noop, notFound("artifact is not recorded for the run")
		}
		return nil, noop, err
	}

	files, err := r.artifacts.GetFolder(ctx, ref.RunID, ref.TarName, ref.FolderName)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, noop, notFound("tarball or folder missing from the store")
		}
		return nil, noop, err
	}

	tmp, err := os.MkdirTemp("", "patchlab-dataset-")
	if err != nil {
		return nil, noop, fmt.Errorf("temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }

	root := filepath.Join(tmp, ref.FolderName)
	for _, file := range files {
		dest := filepath.Join(root, filepath.FromSlash(file.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			cleanup()
			return nil, noop, err
		}
		if err := os.WriteFile(dest, file.Data, 0o644); err != nil {
			cleanup()
			return nil, noop, err
		}
	}

	ds, err := imageset.LoadDirectory(root)
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("load artifact folder: %w", err)
	}
	if ds.Len() == 0 {
		cleanup()
		return nil, noop, notFound("folder contains no images")
	}
	return ds, cleanup, nil
}
