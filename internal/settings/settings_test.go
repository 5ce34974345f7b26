package settings

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel/internal/testutil"
)

func TestLoadDefaults(t *testing.T) {
	home := testutil.SetupTestEnv(t)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, home, s.HomeDir)
	assert.Equal(t, 30*time.Second, s.RequestTimeout)
	assert.Equal(t, 120*time.Second, s.DownloadTimeout)
	assert.Equal(t, 24*time.Hour, s.CheckInterval)
	assert.Equal(t, 7*24*time.Hour, s.NotifyCooldown)
	assert.Equal(t, slog.LevelInfo, s.SlogLevel())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KESTREL_HOME_DIR", "/var/lib/kestrel")
	t.Setenv("KESTREL_REQUEST_TIMEOUT", "5s")
	t.Setenv("KESTREL_CHECK_INTERVAL", "1h")
	t.Setenv("KESTREL_LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/kestrel", s.HomeDir)
	assert.Equal(t, 5*time.Second, s.RequestTimeout)
	assert.Equal(t, time.Hour, s.CheckInterval)
	assert.Equal(t, slog.LevelDebug, s.SlogLevel())

	assert.Equal(t, filepath.Join("/var/lib/kestrel", "cache"), s.CacheDir())
	assert.Equal(t, filepath.Join("/var/lib/kestrel", "config.json"), s.ConfigPath())
	assert.Equal(t, filepath.Join("/var/lib/kestrel", "policy.lua"), s.PolicyPath())
}

func TestSlogLevelFallsBackToInfo(t *testing.T) {
	s := &Settings{LogLevel: "verbose"}
	assert.Equal(t, slog.LevelInfo, s.SlogLevel())
}
