package domain

import (
	"errors"
	"fmt"
)

// EnsureArtifactImmutable enforces that an artifact's identity and
// content never change after it is published.
func EnsureArtifactImmutable(before, after Artifact) error {
	if before.RunID == "" || after.RunID == "" {
		return errors.New("artifact run ids are required")
	}
	if before.RunID != after.RunID {
		return fmt.Errorf("artifact run id changed from %q to %q", before.RunID, after.RunID)
	}
	if before.TarName != after.TarName {
		return errors.New("tar name is immutable")
	}
	if before.FolderName != after.FolderName {
		return errors.New("folder name is immutable")
	}
	if before.SHA256 != after.SHA256 {
		return errors.New("content sha256 is immutable")
	}
	if before.SizeBytes != after.SizeBytes {
		return errors.New("size bytes is immutable")
	}
	return nil
}

// EnsureModelVersionImmutable enforces that a registered model version is
// never overwritten. Updates must create a new version.
func EnsureModelVersionImmutable(before, after ModelVersion) error {
	if before.Name == "" || after.Name == "" {
		return errors.New("model names are required")
	}
	if before.Name != after.Name {
		return fmt.Errorf("model name changed from %q to %q", before.Name, after.Name)
	}
	if before.Version != after.Version {
		return errors.New("version is immutable")
	}
	if before.Architecture != after.Architecture {
		return errors.New("architecture is immutable")
	}
	if before.SHA256 != after.SHA256 {
		return errors.New("content sha256 is immutable")
	}
	if before.SizeBytes != after.SizeBytes {
		return errors.New("size bytes is immutable")
	}
	return nil
}
