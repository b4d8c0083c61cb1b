package dataset

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patchlab-ai/patchlab-go/internal/artifacts"
	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/imageset"
	"github.com/patchlab-ai/patchlab-go/internal/ledger"
	"github.com/patchlab-ai/patchlab-go/internal/pipeline"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

func writeImage(t *testing.T, path string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	data, err := imageset.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return data
}

func newTestResolver(t *testing.T) (*Resolver, *ledger.MemoryLedger, *artifacts.Store) {
	t.Helper()
	runLedger := ledger.NewMemoryLedger()
	store, err := artifacts.NewStore(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	resolver, err := New(runLedger, store)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver, runLedger, store
}

func TestResolveDirectory(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	root := t.TempDir()
	want := writeImage(t, filepath.Join(root, "cat", "a.png"))
	writeImage(t, filepath.Join(root, "dog", "b.png"))

	ds, cleanup, err := resolver.Resolve(context.Background(), domain.DirectoryRef(root))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer cleanup()
	if ds.Len() != 2 {
		t.Fatalf("items = %d, want 2", ds.Len())
	}
	if ds.Items[0].Label != "cat" || string(ds.Items[0].Data) != string(want) {
		t.Fatalf("unexpected first item: %+v", ds.Items[0])
	}
}

func TestResolveDirectoryMissing(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	_, _, err := resolver.Resolve(context.Background(), domain.DirectoryRef("/does/not/exist"))
	var notFound *pipeline.DataNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want DataNotFoundError, got %v", err)
	}

	// An existing but empty directory is also unresolvable.
	_, _, err = resolver.Resolve(context.Background(), domain.DirectoryRef(t.TempDir()))
	if !errors.As(err, &notFound) {
		t.Fatalf("want DataNotFoundError for empty dir, got %v", err)
	}
}

func publishArtifact(t *testing.T, runLedger *ledger.MemoryLedger, store *artifacts.Store, runID string, status domain.RunStatus) {
	t.Helper()
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	data, err := imageset.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	records, err := store.PutTarball(ctx, runID, "out.tar.gz", []artifacts.Folder{
		{Name: "data", Files: []artifacts.File{{Path: "cat/a.png", Data: data}}},
	})
	if err != nil {
		t.Fatalf("put tarball: %v", err)
	}
	if err := runLedger.CreateRun(ctx, domain.Run{
		ID: runID, EntryPoint: "deploy_patch", Status: status, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	for _, record := range records {
		if err := runLedger.AppendArtifact(ctx, record); err != nil {
			t.Fatalf("append artifact: %v", err)
		}
	}
}

func TestResolveArtifact(t *testing.T) {
	resolver, runLedger, store := newTestResolver(t)
	publishArtifact(t, runLedger, store, "r1", domain.RunStatusSucceeded)

	ds, cleanup, err := resolver.Resolve(context.Background(), domain.ArtifactRef("r1", "out.tar.gz", "data"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ds.Len() != 1 || ds.Items[0].Label != "cat" {
		t.Fatalf("unexpected dataset: %+v", ds.Items)
	}
	cleanup()
}

func TestResolveArtifactRequiresSucceededRun(t *testing.T) {
	resolver, runLedger, store := newTestResolver(t)
	publishArtifact(t, runLedger, store, "r1", domain.RunStatusRunning)

	_, _, err := resolver.Resolve(context.Background(), domain.ArtifactRef("r1", "out.tar.gz", "data"))
	var notFound *pipeline.ArtifactNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want ArtifactNotFoundError, got %v", err)
	}
}

func TestResolveArtifactUnknownNames(t *testing.T) {
	resolver, runLedger, store := newTestResolver(t)
	publishArtifact(t, runLedger, store, "r1", domain.RunStatusSucceeded)

	var notFound *pipeline.ArtifactNotFoundError
	if _, _, err := resolver.Resolve(context.Background(), domain.ArtifactRef("nope", "out.tar.gz", "data")); !errors.As(err, &notFound) {
		t.Fatalf("unknown run: want ArtifactNotFoundError, got %v", err)
	}
	if _, _, err := resolver.Resolve(context.Background(), domain.ArtifactRef("r1", "nope.tar.gz", "data")); !errors.As(err, &notFound) {
		t.Fatalf("unknown tar: want ArtifactNotFoundError, got %v", err)
	}
	if _, _, err := resolver.Resolve(context.Background(), domain.ArtifactRef("r1", "out.tar.gz", "nope")); !errors.As(err, &notFound) {
		t.Fatalf("unknown folder: want ArtifactNotFoundError, got %v", err)
	}
}
