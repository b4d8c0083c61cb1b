// Package artifacts implements the tar-based artifact store: immutable
// gzipped tarballs keyed by (run id, tar name), each containing one or
// more named folders.
package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

// ErrNotFound is returned when a tarball does not exist in the store.
var ErrNotFound = errors.New("artifact tarball not found")

const contentTypeTarball = "application/gzip"

// Store persists artifact tarballs in object storage.
type Store struct {
	store  objectstore.Store
	bucket string
	now    func() time.Time
}

func NewStore(store objectstore.Store, bucket string) (*Store, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Store{store: store, bucket: bucket, now: time.Now}, nil
}

func objectKey(runID, tarName string) string {
	return fmt.Sprintf("runs/%s/artifacts/%s", runID, tarName)
}

// PutTarball packs the folders deterministically and uploads the
// tarball. It returns one artifact record per folder, all sharing the
// tarball's digest. Existing tarballs are never overwritten.
func (s *Store) PutTarball(ctx context.Context, runID, tarName string, folders []Folder) ([]domain.Artifact, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("artifact store not initialized")
	}
	runID = strings.TrimSpace(runID)
	tarName = strings.TrimSpace(tarName)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if tarName == "" {
		return nil, errors.New("tar name is required")
	}
	if len(folders) == 0 {
		return nil, errors.New("at least one folder is required")
	}

	key := objectKey(runID, tarName)
	if _, err := s.store.Stat(ctx, s.bucket, key); err == nil {
		return nil, fmt.Errorf("artifact %s already exists for run %s", tarName, runID)
	} else if !errors.Is(err, objectstore.ErrNotFound) {
		return nil, err
	}

	data, err := PackTarball(folders)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", tarName, err)
	}
	sum := sha256.Sum256(data)

	if err := s.store.Put(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), contentTypeTarball); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	createdAt := s.now().UTC()
	out := make([]domain.Artifact, 0, len(folders))
	for _, folder := range folders {
		out = append(out, domain.Artifact{
			RunID:      runID,
			TarName:    tarName,
			FolderName: folder.Name,
			SHA256:     hex.EncodeToString(sum[:]),
			SizeBytes:  int64(len(data)),
			CreatedAt:  createdAt,
		})
	}
	return out, nil
}

// GetTarball downloads a run's tarball.
func (s *Store) GetTarball(ctx context.Context, runID, tarName string) ([]byte, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("artifact store not initialized")
	}
	reader, _, err := s.store.Get(ctx, s.bucket, objectKey(runID, tarName))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read tarball: %w", err)
	}
	return data, nil
}

// GetFolder downloads a tarball and extracts the named folder.
func (s *Store) GetFolder(ctx context.Context, runID, tarName, folderName string) ([]File, error) {
	data, err := s.GetTarball(ctx, runID, tarName)
	if err != nil {
		return nil, err
	}
	files, err := UnpackFolder(data, folderName)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("folder %q: %w", folderName, ErrNotFound)
	}
	return files, nil
}
