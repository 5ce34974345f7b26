package main

import (
	"strings"
	"testing"

	"github.com/kestrelsec/kestrel/internal/cache"
	"github.com/kestrelsec/kestrel/internal/settings"
	"github.com/kestrelsec/kestrel/internal/testutil"
)

func TestUpdateReminder(t *testing.T) {
	testutil.SetupTestEnv(t)

	if msg := updateReminder(); msg != "" {
		t.Errorf("reminder with empty cache = %q, want none", msg)
	}

	// Seed the update-check cache the way an earlier `kestrel check`
	// would have.
	s, err := settings.Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	checker := cache.NewChecker(cache.NewStore(s.CacheDir(), cache.UpdateNamespace), 0, 0)
	if err := checker.RecordLatest("kestrel", Version, "99.0.0"); err != nil {
		t.Fatalf("seed update cache: %v", err)
	}

	msg := updateReminder()
	if !strings.Contains(msg, "99.0.0") {
		t.Errorf("reminder = %q, want mention of 99.0.0", msg)
	}

	if msg := updateReminder(); msg != "" {
		t.Errorf("reminder inside notification cooldown = %q, want none", msg)
	}
}
