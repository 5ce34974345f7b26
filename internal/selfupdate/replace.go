package selfupdate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// executableMode is applied to every installed or staged executable.
const executableMode = 0o755

// atomicReplace moves srcPath over destPath so that destPath is always
// either the old or the complete new file. Plain rename is tried first;
// on a cross-device link error the source is copied to a sibling of
// destPath and renamed from there.
func atomicReplace(srcPath, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	tmpPath := destPath + ".new"
	if err := copyFile(srcPath, tmpPath, executableMode); err != nil {
		return fmt.Errorf("stage copy on target filesystem: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	os.Remove(srcPath)
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// copyFile copies srcPath to destPath with the given mode, fsyncing
// before close so a crash cannot leave a sparse file behind.
func copyFile(srcPath, destPath string, mode os.FileMode) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(destPath)
		return err
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		os.Remove(destPath)
		return err
	}
	return dest.Close()
}
