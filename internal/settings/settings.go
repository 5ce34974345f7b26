// Package settings loads process-level tuning from KESTREL_* environment
// variables. Per-user preferences live in the config file; environment
// settings are for operators and CI.
package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds environment-driven configuration.
type Settings struct {
	// HomeDir is the kestrel state directory. Cache documents, the
	// config file, and the update policy live under it.
	HomeDir string `envconfig:"HOME_DIR"`

	ManifestURL string `envconfig:"MANIFEST_URL" default:"https://releases.kestrelsec.dev/manifest.json"`

	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"120s"`
	LockTimeout     time.Duration `envconfig:"LOCK_TIMEOUT" default:"60s"`

	CheckInterval  time.Duration `envconfig:"CHECK_INTERVAL" default:"24h"`
	NotifyCooldown time.Duration `envconfig:"NOTIFY_COOLDOWN" default:"168h"`

	// GPGKeyring enables detached-signature verification of downloaded
	// releases when set.
	GPGKeyring string `envconfig:"GPG_KEYRING"`
	// SigstoreIssuer and SigstoreIdentity enable sigstore bundle
	// verification when both are set.
	SigstoreIssuer   string `envconfig:"SIGSTORE_ISSUER"`
	SigstoreIdentity string `envconfig:"SIGSTORE_IDENTITY"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Load reads KESTREL_* environment variables.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("KESTREL", &s); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if s.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		s.HomeDir = filepath.Join(home, ".kestrel")
	}
	return &s, nil
}

// CacheDir is where TTL cache documents are stored.
func (s *Settings) CacheDir() string {
	return filepath.Join(s.HomeDir, "cache")
}

// ConfigPath is the user preference file.
func (s *Settings) ConfigPath() string {
	return filepath.Join(s.HomeDir, "config.json")
}

// PolicyPath is the optional Lua update policy hook.
func (s *Settings) PolicyPath() string {
	return filepath.Join(s.HomeDir, "policy.lua")
}

func (s *Settings) SlogLevel() slog.Level {
	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
