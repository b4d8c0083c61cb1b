package domain

import (
	"errors"
	"strings"
	"time"
)

// Artifact is an immutable tarball-packaged output of a succeeded run,
// uniquely identified by (run id, tar name, folder name).
type Artifact struct {
	RunID      string
	TarName    string
	FolderName string
	SHA256     string
	SizeBytes  int64
	CreatedAt  time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("artifact run id is required")
	}
	if strings.TrimSpace(a.TarName) == "" {
		return errors.New("artifact tar name is required")
	}
	if strings.TrimSpace(a.FolderName) == "" {
		return errors.New("artifact folder name is required")
	}
	if strings.TrimSpace(a.SHA256) == "" {
		return errors.New("artifact sha256 is required")
	}
	return nil
}
