package artifacts

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"
)

// File is one entry of an artifact folder, with a path relative to the
// folder root.
type File struct {
	Path string
	Data []byte
}

// Folder is a named directory packed into an artifact tarball.
type Folder struct {
	Name  string
	Files []File
}

// Tar headers carry fixed metadata so identical content packs to
// identical bytes regardless of when or where it is produced.
var fixedModTime = time.Unix(0, 0).UTC()

// PackTarball writes the folders into a deterministic gzipped tarball.
func PackTarball(folders []Folder) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(gz)

	seenDirs := make(map[string]struct{})
	for _, folder := range folders {
		if strings.TrimSpace(folder.Name) == "" {
			return nil, fmt.Errorf("folder name is required")
		}
		files := append([]File(nil), folder.Files...)
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

		for _, file := range files {
			name := path.Join(folder.Name, path.Clean("/"+file.Path)[1:])
			for _, dir := range parentDirs(name) {
				if _, ok := seenDirs[dir]; ok {
					continue
				}
				seenDirs[dir] = struct{}{}
				if err := tw.WriteHeader(&tar.Header{
					Typeflag: tar.TypeDir,
					Name:     dir + "/",
					Mode:     0o755,
					ModTime:  fixedModTime,
					Format:   tar.FormatPAX,
				}); err != nil {
					return nil, err
				}
			}
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeReg,
				Name:     name,
				Mode:     0o644,
				Size:     int64(len(file.Data)),
				ModTime:  fixedModTime,
				Format:   tar.FormatPAX,
			}); err != nil {
				return nil, err
			}
			if _, err := tw.Write(file.Data); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackFolder extracts the named folder's files from a tarball.
// Returns the files with paths relative to the folder root.
func UnpackFolder(data []byte, folderName string) ([]File, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	prefix := strings.Trim(folderName, "/") + "/"
	tr := tar.NewReader(gz)
	out := make([]File, 0)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return nil, fmt.Errorf("tar entry %q escapes the archive root", hdr.Name)
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("tar read %s: %w", hdr.Name, err)
		}
		out = append(out, File{Path: strings.TrimPrefix(name, prefix), Data: content})
	}
	return out, nil
}

// ListFolders returns the sorted top-level folder names in a tarball.
func ListFolders(data []byte) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	seen := make(map[string]struct{})
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		name := strings.Trim(path.Clean(hdr.Name), "/")
		if name == "" || name == "." {
			continue
		}
		if idx := strings.IndexByte(name, '/'); idx > 0 {
			name = name[:idx]
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func parentDirs(name string) []string {
	dirs := make([]string, 0, 2)
	dir := path.Dir(name)
	for dir != "." && dir != "/" {
		dirs = append(dirs, dir)
		dir = path.Dir(dir)
	}
	sort.Strings(dirs)
	return dirs
}
