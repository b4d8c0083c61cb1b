package registry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/patchlab-ai/patchlab-go/internal/domain"
	"github.com/patchlab-ai/patchlab-go/internal/storage/objectstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(objectstore.NewMemoryStore(), "test")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestPutAllocatesVersionsFromOne(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	v1, err := r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if v1.Version != 1 {
		t.Fatalf("first version = %d, want 1", v1.Version)
	}
	v2, err := r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":2}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("second version = %d, want 2", v2.Version)
	}
	if v1.SHA256 == v2.SHA256 {
		t.Fatal("distinct blobs must get distinct digests")
	}

	// Another model name starts at 1 again.
	other, err := r.Put(ctx, "m2", domain.ArchVGG16, []byte(`{}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if other.Version != 1 {
		t.Fatalf("other model version = %d, want 1", other.Version)
	}
}

func TestGetResolvesLatest(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _ = r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":1}`))
	_, _ = r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":2}`))

	blob, version, err := r.Get(ctx, domain.ModelRef{Name: "m1", Version: domain.VersionLatest})
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if version != 2 || !bytes.Equal(blob, []byte(`{"v":2}`)) {
		t.Fatalf("latest = v%d %s", version, blob)
	}

	blob, version, err = r.Get(ctx, domain.ModelRef{Name: "m1", Version: 1})
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if version != 1 || !bytes.Equal(blob, []byte(`{"v":1}`)) {
		t.Fatalf("v1 = v%d %s", version, blob)
	}
}

func TestGetMissingModel(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, _, err := r.Get(ctx, domain.ModelRef{Name: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	_, _ = r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{}`))
	if _, _, err := r.Get(ctx, domain.ModelRef{Name: "m1", Version: 9}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing version, got %v", err)
	}
}

// staleListStore hides one key from List, simulating a version scan
// that raced a writer in another process.
type staleListStore struct {
	objectstore.Store
	hidden string
}

func (s *staleListStore) List(ctx context.Context, bucket, prefix string) ([]objectstore.ObjectInfo, error) {
	infos, err := s.Store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]objectstore.ObjectInfo, 0, len(infos))
	for _, info := range infos {
		if info.Key == s.hidden {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func TestPutVersionCollisionGuard(t *testing.T) {
	backing := objectstore.NewMemoryStore()
	r, err := New(backing, "test")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ctx := context.Background()
	if _, err := r.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A registry whose scan misses v1 allocates the same version again.
	stale, err := New(&staleListStore{Store: backing, hidden: "models/m1/v000001"}, "test")
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	// An identical blob is an idempotent retry.
	entry, err := stale.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("idempotent put: %v", err)
	}
	if entry.Version != 1 {
		t.Fatalf("version = %d, want 1", entry.Version)
	}

	// A divergent blob must not overwrite the registered version.
	if _, err := stale.Put(ctx, "m1", domain.ArchResNet50, []byte(`{"v":9}`)); err == nil {
		t.Fatal("overwriting a registered version must be rejected")
	}
	blob, _, err := r.Get(ctx, domain.ModelRef{Name: "m1", Version: 1})
	if err != nil || !bytes.Equal(blob, []byte(`{"v":1}`)) {
		t.Fatalf("v1 content changed: %s, %v", blob, err)
	}
}

func TestPutRejectsBadNames(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Put(ctx, "a/b", domain.ArchResNet50, []byte(`{}`)); err == nil {
		t.Fatal("slash in model name must be rejected")
	}
	if _, err := r.Put(ctx, "", domain.ArchResNet50, []byte(`{}`)); err == nil {
		t.Fatal("empty model name must be rejected")
	}
	if _, err := r.Put(ctx, "m1", "bogus", []byte(`{}`)); err == nil {
		t.Fatal("invalid architecture must be rejected")
	}
}
