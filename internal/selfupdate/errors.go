package selfupdate

import "fmt"

// BackupFailedError means the current executable could not be copied
// aside. The pipeline aborts before any replacement happens.
type BackupFailedError struct {
	SourcePath string
	BackupPath string
	Err        error
}

func (e *BackupFailedError) Error() string {
	return fmt.Sprintf("backing up %s to %s: %v", e.SourcePath, e.BackupPath, e.Err)
}

func (e *BackupFailedError) Unwrap() error {
	return e.Err
}

// ReplaceFailedError means swapping the staged executable into place
// failed. When a backup exists it has been restored.
type ReplaceFailedError struct {
	TargetPath string
	Err        error
}

func (e *ReplaceFailedError) Error() string {
	return fmt.Sprintf("replacing %s: %v", e.TargetPath, e.Err)
}

func (e *ReplaceFailedError) Unwrap() error {
	return e.Err
}
