// Package imageset provides the in-memory dataset handle shared by all
// transform stages: a flat list of labeled, encoded images loaded from a
// class-folder directory layout (label/<file>.png|.jpg).
package imageset

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
)

// Item is one image of a dataset. Data holds the encoded bytes exactly
// as stored, so untouched items round-trip byte-identically.
type Item struct {
	Path  string // relative path within the dataset root
	Label string // first path element, empty for files at the root
	Data  []byte
}

// Decode decodes the item's encoded bytes into pixels.
func (it Item) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(it.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", it.Path, err)
	}
	return img, nil
}

// Dataset is a resolved, in-memory dataset handle.
type Dataset struct {
	Name  string
	Items []Item
}

// Labels returns the sorted distinct labels in the dataset.
func (d *Dataset) Labels() []string {
	seen := make(map[string]struct{})
	for _, it := range d.Items {
		seen[it.Label] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of items.
func (d *Dataset) Len() int {
	return len(d.Items)
}

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// LoadDirectory reads a class-folder dataset from disk. Items are
// ordered by relative path so loads are deterministic.
func LoadDirectory(root string) (*Dataset, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	ds := &Dataset{Name: filepath.Base(root)}
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := imageExtensions[ext]; !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		label := ""
		if idx := strings.IndexByte(rel, '/'); idx > 0 {
			label = rel[:idx]
		}
		ds.Items = append(ds.Items, Item{Path: rel, Label: label, Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ds.Items, func(i, j int) bool { return ds.Items[i].Path < ds.Items[j].Path })
	return ds, nil
}

// WriteDirectory materializes the dataset under root, recreating the
// class-folder layout.
func WriteDirectory(ds *Dataset, root string) error {
	for _, it := range ds.Items {
		dest := filepath.Join(root, filepath.FromSlash(it.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, it.Data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// EncodePNG encodes pixels deterministically as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReplaceExt swaps the extension of a relative item path, keeping the
// directory part intact.
func ReplaceExt(path, ext string) string {
	old := filepath.Ext(path)
	return strings.TrimSuffix(path, old) + ext
}
