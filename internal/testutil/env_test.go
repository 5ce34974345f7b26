package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelsec/kestrel/internal/testutil"
)

func TestSetupTestEnv(t *testing.T) {
	home := testutil.SetupTestEnv(t)

	if got := os.Getenv("KESTREL_HOME_DIR"); got != home {
		t.Errorf("KESTREL_HOME_DIR = %q, want %q", got, home)
	}
	if !filepath.IsAbs(home) {
		t.Errorf("home %s is not absolute", home)
	}
	if _, err := os.Stat(filepath.Join(home, "cache")); os.IsNotExist(err) {
		t.Error("cache directory was not created")
	}
}

func TestSetupTestEnv_Isolation(t *testing.T) {
	dir1 := testutil.SetupTestEnv(t)

	t.Run("subtest", func(t *testing.T) {
		dir2 := testutil.SetupTestEnv(t)
		if dir1 == dir2 {
			t.Error("expected different temp directories for different test contexts")
		}
	})
}
