package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutTarballWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	folders := []Folder{{Name: "data", Files: []File{{Path: "a.txt", Data: []byte("a")}}}}

	records, err := store.PutTarball(ctx, "r1", "out.tar.gz", folders)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(records) != 1 || records[0].FolderName != "data" || records[0].SHA256 == "" {
		t.Fatalf("unexpected records: %+v", records)
	}

	if _, err := store.PutTarball(ctx, "r1", "out.tar.gz", folders); err == nil {
		t.Fatal("overwriting an existing tarball must be rejected")
	}
	// Same tar name under another run is a distinct artifact.
	if _, err := store.PutTarball(ctx, "r2", "out.tar.gz", folders); err != nil {
		t.Fatalf("put under distinct run: %v", err)
	}
}

func TestGetFolderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	folders := []Folder{
		{Name: "adversarial_patched_data", Files: []File{{Path: "cat/a.png", Data: []byte("pixels")}}},
	}
	if _, err := store.PutTarball(ctx, "runA", "adv_testing", folders); err != nil {
		t.Fatalf("put: %v", err)
	}

	files, err := store.GetFolder(ctx, "runA", "adv_testing", "adversarial_patched_data")
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if len(files) != 1 || files[0].Path != "cat/a.png" || string(files[0].Data) != "pixels" {
		t.Fatalf("round trip mismatch: %+v", files)
	}
}

func TestGetFolderNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetTarball(ctx, "r1", "nope.tar.gz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing tarball, got %v", err)
	}

	folders := []Folder{{Name: "data", Files: []File{{Path: "a.txt", Data: []byte("a")}}}}
	if _, err := store.PutTarball(ctx, "r1", "out.tar.gz", folders); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.GetFolder(ctx, "r1", "out.tar.gz", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing folder, got %v", err)
	}
}
