package artifacts

import (
	"bytes"
	"testing"
)

func testFolders() []Folder {
	return []Folder{
		{
			Name: "data",
			Files: []File{
				{Path: "cat/b.png", Data: []byte("bbb")},
				{Path: "cat/a.png", Data: []byte("aaa")},
				{Path: "dog/c.png", Data: []byte("ccc")},
			},
		},
		{
			Name:  "extra",
			Files: []File{{Path: "readme.txt", Data: []byte("hi")}},
		},
	}
}

func TestPackTarballDeterministic(t *testing.T) {
	first, err := PackTarball(testFolders())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	second, err := PackTarball(testFolders())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("identical folders must pack to identical bytes")
	}

	// File order within a folder must not matter.
	shuffled := testFolders()
	shuffled[0].Files[0], shuffled[0].Files[1] = shuffled[0].Files[1], shuffled[0].Files[0]
	third, err := PackTarball(shuffled)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(first, third) {
		t.Fatal("file order must not change the packed bytes")
	}
}

func TestUnpackFolderRoundTrip(t *testing.T) {
	data, err := PackTarball(testFolders())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	files, err := UnpackFolder(data, "data")
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %d, want 3", len(files))
	}
	if files[0].Path != "cat/a.png" || string(files[0].Data) != "aaa" {
		t.Fatalf("unexpected first file: %+v", files[0])
	}

	files, err = UnpackFolder(data, "missing")
	if err != nil {
		t.Fatalf("unpack missing folder: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("missing folder must yield no files, got %d", len(files))
	}
}

func TestListFolders(t *testing.T) {
	data, err := PackTarball(testFolders())
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	names, err := ListFolders(data)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "data" || names[1] != "extra" {
		t.Fatalf("folders = %v, want [data extra]", names)
	}
}

func TestPackTarballRejectsEmptyFolderName(t *testing.T) {
	if _, err := PackTarball([]Folder{{Name: "  "}}); err == nil {
		t.Fatal("empty folder name must be rejected")
	}
}
