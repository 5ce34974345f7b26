// Package testutil provides utilities for testing kestrel in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv points kestrel's state directory at a per-test temp
// location so tests never touch the user's real ~/.kestrel tree or each
// other. It returns the isolated home directory.
//
// Cleanup is handled by t.TempDir() and t.Setenv(), so callers don't
// need to undo anything.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	home := filepath.Join(t.TempDir(), "kestrel-home")
	t.Setenv("KESTREL_HOME_DIR", home)

	if err := os.MkdirAll(filepath.Join(home, "cache"), 0o750); err != nil {
		t.Fatalf("failed to create test cache directory: %v", err)
	}
	return home
}
