package imageset

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

func encodedSquare(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	ds := &Dataset{Name: "rt", Items: []Item{
		{Path: "cat/a.png", Label: "cat", Data: encodedSquare(t, 200)},
		{Path: "dog/b.png", Label: "dog", Data: encodedSquare(t, 20)},
	}}
	root := t.TempDir()
	if err := WriteDirectory(ds, root); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadDirectory(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("items = %d, want 2", loaded.Len())
	}
	for i, it := range loaded.Items {
		want := ds.Items[i]
		if it.Path != want.Path || it.Label != want.Label || !bytes.Equal(it.Data, want.Data) {
			t.Fatalf("item %d mismatch: %+v", i, it)
		}
	}
	labels := loaded.Labels()
	if len(labels) != 2 || labels[0] != "cat" || labels[1] != "dog" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestLoadDirectorySkipsNonImages(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "cat"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "cat", "a.png"), encodedSquare(t, 100), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "cat", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ds, err := LoadDirectory(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ds.Len() != 1 || ds.Items[0].Path != "cat/a.png" {
		t.Fatalf("unexpected items: %+v", ds.Items)
	}
}

func TestReplaceExt(t *testing.T) {
	if got := ReplaceExt("cat/a.jpeg", ".png"); got != "cat/a.png" {
		t.Fatalf("ReplaceExt = %q", got)
	}
	if got := ReplaceExt("cat/a.png", ""); got != "cat/a" {
		t.Fatalf("ReplaceExt = %q", got)
	}
}
