package domain

import (
	"errors"
	"strings"
)

// DatasetRefKind selects how a dataset reference is resolved.
type DatasetRefKind string

const (
	DatasetRefDirectory DatasetRefKind = "directory"
	DatasetRefArtifact  DatasetRefKind = "artifact"
)

// DatasetRef names a dataset either by a local directory or by an
// artifact produced by a prior run.
type DatasetRef struct {
	Kind       DatasetRefKind
	Path       string
	RunID      string
	TarName    string
	FolderName string
}

// DirectoryRef builds a directory-kind dataset reference.
func DirectoryRef(path string) DatasetRef {
	return DatasetRef{Kind: DatasetRefDirectory, Path: path}
}

// ArtifactRef builds an artifact-kind dataset reference.
func ArtifactRef(runID, tarName, folderName string) DatasetRef {
	return DatasetRef{
		Kind:       DatasetRefArtifact,
		RunID:      runID,
		TarName:    tarName,
		FolderName: folderName,
	}
}

func (r DatasetRef) Validate() error {
	switch r.Kind {
	case DatasetRefDirectory:
		if strings.TrimSpace(r.Path) == "" {
			return errors.New("directory dataset ref requires a path")
		}
	case DatasetRefArtifact:
		if strings.TrimSpace(r.RunID) == "" {
			return errors.New("artifact dataset ref requires a run id")
		}
		if strings.TrimSpace(r.TarName) == "" {
			return errors.New("artifact dataset ref requires a tar name")
		}
		if strings.TrimSpace(r.FolderName) == "" {
			return errors.New("artifact dataset ref requires a folder name")
		}
	default:
		return errors.New("invalid dataset ref kind")
	}
	return nil
}
