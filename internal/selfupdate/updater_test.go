package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelsec/kestrel/internal/cache"
	"github.com/kestrelsec/kestrel/internal/platform"
	"github.com/kestrelsec/kestrel/internal/policy"
	"github.com/kestrelsec/kestrel/internal/release"
	"github.com/kestrelsec/kestrel/internal/verify"
)

const (
	oldBinary = "#!/bin/sh\necho kestrel 1.0.0\n"
	newBinary = "#!/bin/sh\necho kestrel 1.1.0\n"
)

type fakeSource struct {
	release *release.Release
	err     error
	calls   int
}

func (s *fakeSource) Latest(ctx context.Context) (*release.Release, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.release, nil
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// testEnv lays out a fake install tree and a registry serving newBinary
// as version 1.1.0.
type testEnv struct {
	execPath string
	workDir  string
	source   *fakeSource
	config   Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	execPath := filepath.Join(root, "bin", "kestrel")
	require.NoError(t, os.MkdirAll(filepath.Dir(execPath), 0o755))
	require.NoError(t, os.WriteFile(execPath, []byte(oldBinary), 0o755))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, newBinary)
	}))
	t.Cleanup(server.Close)

	source := &fakeSource{release: &release.Release{
		Version: "1.1.0",
		Asset: release.Asset{
			URL:      server.URL + "/kestrel",
			Checksum: "sha256:" + sha256Hex(newBinary),
		},
	}}

	env := &testEnv{
		execPath: execPath,
		workDir:  filepath.Join(root, "bin", "updater"),
		source:   source,
	}
	env.config = Config{
		PackageName:    "kestrel",
		CurrentVersion: "1.0.0",
		ExecPath:       execPath,
		WorkDir:        env.workDir,
		Source:         source,
		Platform:       platform.StaticDetector{Info: platform.Info{OS: "linux", Arch: "amd64"}},
		SmokeTest: func(ctx context.Context, exePath string) error {
			return nil
		},
	}
	return env
}

func (e *testEnv) updater(t *testing.T) *Updater {
	t.Helper()
	u, err := New(e.config)
	require.NoError(t, err)
	return u
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyHappyPath(t *testing.T) {
	env := newTestEnv(t)
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Updated)
	assert.Equal(t, "1.0.0", result.FromVersion)
	assert.Equal(t, "1.1.0", result.ToVersion)

	assert.Equal(t, newBinary, readFile(t, env.execPath))

	info, err := os.Stat(env.execPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// Transient artifacts are gone, one backup of the old binary remains.
	assert.NoFileExists(t, filepath.Join(env.workDir, downloadsDir, "kestrel-1.1.0"))
	assert.NoFileExists(t, filepath.Join(env.workDir, stagingDir, "kestrel-1.1.0"))

	backups, err := os.ReadDir(filepath.Join(env.workDir, backupsDir))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, oldBinary, readFile(t, filepath.Join(env.workDir, backupsDir, backups[0].Name())))
}

func TestApplyChecksumMismatchLeavesInstallUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.source.release.Checksum = "sha256:" + sha256Hex("something else entirely")
	u := env.updater(t)

	result, err := u.Apply(context.Background())

	var mismatch *verify.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateVerifying, result.FailedStage)
	assert.False(t, result.Updated)

	// Install path is byte-identical; the rejected artifact is moved
	// aside for diagnostics so it cannot satisfy a later download.
	assert.Equal(t, oldBinary, readFile(t, env.execPath))
	assert.NoFileExists(t, filepath.Join(env.workDir, downloadsDir, "kestrel-1.1.0"))

	entries, err := os.ReadDir(filepath.Join(env.workDir, downloadsDir))
	require.NoError(t, err)
	var rejected []string
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".rejected-") {
			rejected = append(rejected, entry.Name())
		}
	}
	require.Len(t, rejected, 1)
	assert.Equal(t, newBinary, readFile(t, filepath.Join(env.workDir, downloadsDir, rejected[0])))
}

func TestApplyRetriesAfterChecksumMismatch(t *testing.T) {
	env := newTestEnv(t)

	// First transfer serves corrupted bytes, later transfers the genuine
	// release at the same URL.
	var transfers atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if transfers.Add(1) == 1 {
			fmt.Fprint(w, "corrupted bytes")
			return
		}
		fmt.Fprint(w, newBinary)
	}))
	t.Cleanup(server.Close)
	env.source.release.URL = server.URL + "/kestrel"

	u := env.updater(t)

	result, err := u.Apply(context.Background())
	var mismatch *verify.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, StateFailed, result.State)

	result, err = u.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Updated)
	assert.Equal(t, int32(2), transfers.Load(), "retry must re-download, not reuse the rejected artifact")
	assert.Equal(t, newBinary, readFile(t, env.execPath))
}

func TestApplySmokeTestFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.config.SmokeTest = func(ctx context.Context, exePath string) error {
		return errors.New("exit status 127")
	}
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smoke test failed")

	assert.Equal(t, StateRolledBack, result.State)
	assert.Equal(t, StateCleaningUp, result.FailedStage)
	assert.False(t, result.Updated)

	assert.Equal(t, oldBinary, readFile(t, env.execPath))
}

func TestApplySmokeTestSeesNewExecutable(t *testing.T) {
	env := newTestEnv(t)
	var probed string
	env.config.SmokeTest = func(ctx context.Context, exePath string) error {
		probed = readFile(t, exePath)
		return nil
	}
	u := env.updater(t)

	_, err := u.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newBinary, probed)
}

func TestApplyBackupFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	// A file squatting on the backups path makes MkdirAll fail.
	require.NoError(t, os.MkdirAll(env.workDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.workDir, backupsDir), []byte("x"), 0o644))
	u := env.updater(t)

	result, err := u.Apply(context.Background())

	var backupErr *BackupFailedError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateBackingUp, result.FailedStage)

	assert.Equal(t, oldBinary, readFile(t, env.execPath))
}

func TestApplyAlreadyUpToDate(t *testing.T) {
	env := newTestEnv(t)
	env.source.release.Version = "1.0.0"
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.Updated)
	assert.Contains(t, result.Reason, "up to date")
	assert.NoDirExists(t, filepath.Join(env.workDir, downloadsDir))
}

func TestApplyHeldByPolicy(t *testing.T) {
	env := newTestEnv(t)
	policyPath := filepath.Join(t.TempDir(), "policy.lua")
	script := `function allow_update(current, latest) return false end`
	require.NoError(t, os.WriteFile(policyPath, []byte(script), 0o644))
	env.config.Policy = policy.NewEvaluator(policyPath)
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.Updated)
	assert.Equal(t, "held by update policy", result.Reason)
	assert.NoDirExists(t, filepath.Join(env.workDir, downloadsDir))
}

func TestApplyCachedNoUpdateSkipsNetwork(t *testing.T) {
	env := newTestEnv(t)
	checker := cache.NewChecker(cache.NewStore(t.TempDir(), cache.UpdateNamespace), 0, 0)
	require.NoError(t, checker.RecordLatest("kestrel", "1.0.0", "1.0.0"))
	env.config.Checker = checker
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.False(t, result.Updated)
	assert.Equal(t, 0, env.source.calls)
}

func TestCheckUsesCacheWithinTTL(t *testing.T) {
	env := newTestEnv(t)
	env.config.Checker = cache.NewChecker(cache.NewStore(t.TempDir(), cache.UpdateNamespace), 0, 0)
	u := env.updater(t)

	first, err := u.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, first.UpdateAvailable)
	assert.Equal(t, "1.1.0", first.LatestVersion)
	assert.Equal(t, 1, env.source.calls)

	second, err := u.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, second.UpdateAvailable)
	assert.Equal(t, 1, env.source.calls, "second check within TTL must not hit the registry")
}

func TestNotifyIfDueHonorsCooldown(t *testing.T) {
	env := newTestEnv(t)
	checker := cache.NewChecker(cache.NewStore(t.TempDir(), cache.UpdateNamespace), 0, 0)
	require.NoError(t, checker.RecordLatest("kestrel", "1.0.0", "1.1.0"))
	env.config.Checker = checker
	u := env.updater(t)

	version, due := u.NotifyIfDue()
	assert.True(t, due)
	assert.Equal(t, "1.1.0", version)

	_, due = u.NotifyIfDue()
	assert.False(t, due, "second reminder inside the cooldown")
}

func TestApplyPrunesOldBackups(t *testing.T) {
	env := newTestEnv(t)
	backups := filepath.Join(env.workDir, backupsDir)
	require.NoError(t, os.MkdirAll(backups, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backups, "kestrel-0.9.0-1000"), []byte("ancient"), 0o755))
	u := env.updater(t)

	_, err := u.Apply(context.Background())
	require.NoError(t, err)

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, oldBinary, readFile(t, filepath.Join(backups, entries[0].Name())))
}

func TestApplyReportsSourceErrors(t *testing.T) {
	env := newTestEnv(t)
	env.source.err = errors.New("registry unreachable")
	u := env.updater(t)

	result, err := u.Apply(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, StateChecking, result.FailedStage)
	assert.Equal(t, oldBinary, readFile(t, env.execPath))
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing_package", mutate: func(c *Config) { c.PackageName = "" }},
		{name: "missing_version", mutate: func(c *Config) { c.CurrentVersion = "" }},
		{name: "missing_exec_path", mutate: func(c *Config) { c.ExecPath = "" }},
		{name: "missing_source", mutate: func(c *Config) { c.Source = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestEnv(t).config
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestAtomicReplaceSwapsContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "staged")
	dest := filepath.Join(dir, "installed")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o755))

	require.NoError(t, atomicReplace(src, dest))

	assert.Equal(t, "new", readFile(t, dest))
	assert.NoFileExists(t, src)
}
