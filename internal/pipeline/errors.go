package pipeline

import "fmt"

// ValidationError reports the first parameter that violates its schema.
// Validation failures never start stage work.
type ValidationError struct {
	Param      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Constraint)
}

// DataNotFoundError reports an unresolvable directory dataset reference.
type DataNotFoundError struct {
	Path string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("dataset directory %q does not exist or is empty", e.Path)
}

// ArtifactNotFoundError reports an unresolvable artifact reference.
type ArtifactNotFoundError struct {
	RunID      string
	TarName    string
	FolderName string
	Reason     string
}

func (e *ArtifactNotFoundError) Error() string {
	msg := fmt.Sprintf("artifact (run_id=%s, tar_name=%s, folder_name=%s) not found", e.RunID, e.TarName, e.FolderName)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// NotFoundError reports a missing model name or version in the registry.
type NotFoundError struct {
	Name    string
	Version int
}

func (e *NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("model %q version %d not found", e.Name, e.Version)
	}
	return fmt.Sprintf("model %q not found", e.Name)
}

// StageExecutionError wraps any failure during transform execution. The
// associated run is marked FAILED and no artifacts are committed.
type StageExecutionError struct {
	EntryPoint string
	RunID      string
	Err        error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s (run %s) failed: %v", e.EntryPoint, e.RunID, e.Err)
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}
