// Package registry implements the versioned model registry: immutable
// model blobs keyed by (name, version) in object storage, with versions
// allocated monotonically from 1. Updates create a new version, never
// overwrite.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

// ErrNotFound is returned for a missing model name or version.
var ErrNotFound = errors.New("model version not found")

const contentTypeModel = "application/json"

// Registry stores model versions in object storage.
type Registry struct {
	store  objectstore.Store
	bucket string
	now    func() time.Time

	// Serializes version allocation per process. Concurrent writers on
	// separate processes are arbitrated by the write-once object store.
	mu sync.Mutex
}

func New(store objectstore.Store, bucket string) (*Registry, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Registry{store: store, bucket: bucket, now: time.Now}, nil
}

func modelPrefix(name string) string {
	return fmt.Sprintf("models/%s/", name)
}

func modelKey(name string, version int) string {
	return fmt.Sprintf("models/%s/v%06d", name, version)
}

// Put registers a new version of the named model and returns its
// registry entry.
func (r *Registry) Put(ctx context.Context, name string, arch domain.Architecture, blob []byte) (domain.ModelVersion, error) {
	if r == nil || r.store == nil {
		return domain.ModelVersion{}, errors.New("registry not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ModelVersion{}, errors.New("model name is required")
	}
	if strings.ContainsAny(name, "/ ") {
		return domain.ModelVersion{}, fmt.Errorf("model name %q must not contain slashes or spaces", name)
	}
	if !arch.Valid() {
		return domain.ModelVersion{}, fmt.Errorf("invalid architecture %q", arch)
	}
	if len(blob) == 0 {
		return domain.ModelVersion{}, errors.New("model blob is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	latest, err := r.scanLatest(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.ModelVersion{}, err
	}
	version := latest + 1

	sum := sha256.Sum256(blob)
	next := domain.ModelVersion{
		Name:         name,
		Version:      version,
		Architecture: arch,
		SHA256:       hex.EncodeToString(sum[:]),
		SizeBytes:    int64(len(blob)),
		CreatedAt:    r.now().UTC(),
	}

	// A writer in another process may have claimed the same version
	// between the scan and the write. An identical blob is an idempotent
	// retry; anything else must not overwrite.
	existing, err := r.describe(ctx, name, version, arch)
	if err == nil {
		if err := domain.EnsureModelVersionImmutable(existing, next); err != nil {
			return domain.ModelVersion{}, fmt.Errorf("version %d of model %s already registered: %w", version, name, err)
		}
		return next, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.ModelVersion{}, err
	}

	key := modelKey(name, version)
	if err := r.store.Put(ctx, r.bucket, key, bytes.NewReader(blob), int64(len(blob)), contentTypeModel); err != nil {
		return domain.ModelVersion{}, fmt.Errorf("put %s: %w", key, err)
	}
	return next, nil
}

// describe reconstructs the registry entry for a stored version. The
// architecture is not persisted alongside the blob, so the caller's value
// is echoed back.
func (r *Registry) describe(ctx context.Context, name string, version int, arch domain.Architecture) (domain.ModelVersion, error) {
	reader, info, err := r.store.Get(ctx, r.bucket, modelKey(name, version))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return domain.ModelVersion{}, ErrNotFound
		}
		return domain.ModelVersion{}, err
	}
	defer reader.Close()
	blob, err := io.ReadAll(reader)
	if err != nil {
		return domain.ModelVersion{}, fmt.Errorf("read model: %w", err)
	}
	sum := sha256.Sum256(blob)
	return domain.ModelVersion{
		Name:         name,
		Version:      version,
		Architecture: arch,
		SHA256:       hex.EncodeToString(sum[:]),
		SizeBytes:    info.Size,
	}, nil
}

// Get fetches a model blob by reference. Version zero selects latest.
func (r *Registry) Get(ctx context.Context, ref domain.ModelRef) ([]byte, int, error) {
	if r == nil || r.store == nil {
		return nil, 0, errors.New("registry not initialized")
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return nil, 0, errors.New("model name is required")
	}

	version := ref.Version
	if version == domain.VersionLatest {
		latest, err := r.Latest(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		version = latest
	}

	reader, _, err := r.store.Get(ctx, r.bucket, modelKey(name, version))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	defer reader.Close()
	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("read model: %w", err)
	}
	return blob, version, nil
}

// Latest returns the newest registered version number for a model.
func (r *Registry) Latest(ctx context.Context, name string) (int, error) {
	if r == nil || r.store == nil {
		return 0, errors.New("registry not initialized")
	}
	return r.scanLatest(ctx, strings.TrimSpace(name))
}

func (r *Registry) scanLatest(ctx context.Context, name string) (int, error) {
	infos, err := r.store.List(ctx, r.bucket, modelPrefix(name))
	if err != nil {
		return 0, fmt.Errorf("list versions: %w", err)
	}
	latest := 0
	for _, info := range infos {
		base := info.Key[strings.LastIndexByte(info.Key, '/')+1:]
		if !strings.HasPrefix(base, "v") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimLeft(base[1:], "0"))
		if err != nil {
			continue
		}
		if n > latest {
			latest = n
		}
	}
	if latest == 0 {
		return 0, ErrNotFound
	}
	return latest, nil
}
