package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumMismatchError indicates a downloaded artifact does not match
// its expected digest. Fatal: the update is aborted and never applied.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// SHA256File computes the hex-encoded SHA256 digest of a file.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Checksum verifies a file against an expected SHA256 digest. The
// expected value may be bare hex or carry a "sha256:" prefix; the
// comparison is case-insensitive.
func Checksum(path, expected string) error {
	want := strings.TrimSpace(expected)
	want = strings.TrimPrefix(want, "sha256:")
	if want == "" {
		return fmt.Errorf("no expected checksum for %s", path)
	}

	actual, err := SHA256File(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actual, want) {
		return &ChecksumMismatchError{Path: path, Expected: want, Actual: actual}
	}
	return nil
}
