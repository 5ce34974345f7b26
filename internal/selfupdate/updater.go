package selfupdate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelsec/kestrel/internal/cache"
	"github.com/kestrelsec/kestrel/internal/fetch"
	"github.com/kestrelsec/kestrel/internal/locker"
	"github.com/kestrelsec/kestrel/internal/logctx"
	"github.com/kestrelsec/kestrel/internal/platform"
	"github.com/kestrelsec/kestrel/internal/policy"
	"github.com/kestrelsec/kestrel/internal/release"
	"github.com/kestrelsec/kestrel/internal/verify"
)

const (
	downloadsDir = "downloads"
	stagingDir   = "staging"
	backupsDir   = "backups"
)

// Config wires an Updater. PackageName, CurrentVersion, ExecPath, and
// Source are required.
type Config struct {
	PackageName    string
	CurrentVersion string
	// ExecPath is the installed executable to be replaced.
	ExecPath string
	// WorkDir holds downloads/, staging/, and backups/. Defaults to
	// <dir of ExecPath>/updater, which keeps staging on the same
	// filesystem as the final rename.
	WorkDir string

	Source      release.Source
	Coordinator *locker.Coordinator
	Checker     *cache.Checker
	Platform    platform.Detector

	// Policy, GPG, and Bundle are optional hardening hooks; nil skips
	// the corresponding step.
	Policy *policy.Evaluator
	GPG    *verify.GPGVerifier
	Bundle *verify.BundleVerifier

	// SmokeTest validates a freshly installed executable. Nil gets the
	// default "run <exe> --version" probe.
	SmokeTest func(ctx context.Context, exePath string) error
}

// CheckResult is the outcome of a cache-gated version check.
type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
}

// Updater runs version checks and the self-update pipeline.
type Updater struct {
	pkg       string
	current   string
	execPath  string
	workDir   string
	source    release.Source
	coord     *locker.Coordinator
	checker   *cache.Checker
	detector  platform.Detector
	policy    *policy.Evaluator
	gpg       *verify.GPGVerifier
	bundle    *verify.BundleVerifier
	smokeTest func(ctx context.Context, exePath string) error
}

// New validates cfg and builds an Updater.
func New(cfg Config) (*Updater, error) {
	if cfg.PackageName == "" || cfg.CurrentVersion == "" {
		return nil, fmt.Errorf("package name and current version are required")
	}
	if cfg.ExecPath == "" {
		return nil, fmt.Errorf("executable path is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("release source is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(filepath.Dir(cfg.ExecPath), "updater")
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = locker.New(locker.Config{})
	}
	if cfg.Platform == nil {
		cfg.Platform = platform.NewDetector()
	}
	if cfg.SmokeTest == nil {
		cfg.SmokeTest = runVersionProbe
	}
	return &Updater{
		pkg:       cfg.PackageName,
		current:   cfg.CurrentVersion,
		execPath:  cfg.ExecPath,
		workDir:   cfg.WorkDir,
		source:    cfg.Source,
		coord:     cfg.Coordinator,
		checker:   cfg.Checker,
		detector:  cfg.Platform,
		policy:    cfg.Policy,
		gpg:       cfg.GPG,
		bundle:    cfg.Bundle,
		smokeTest: cfg.SmokeTest,
	}, nil
}

// Check performs a cache-gated version check. The registry is queried
// only when the fetch TTL has lapsed; otherwise the cached answer is
// returned without network traffic.
func (u *Updater) Check(ctx context.Context) (*CheckResult, error) {
	if u.checker == nil || u.checker.ShouldCheck(u.pkg, u.current) {
		rel, err := u.source.Latest(ctx)
		if err != nil {
			return nil, err
		}
		if u.checker != nil {
			if err := u.checker.RecordLatest(u.pkg, u.current, rel.Version); err != nil {
				logctx.From(ctx).Warn("failed to cache version check", "error", err)
			}
		}
		return &CheckResult{
			CurrentVersion:  u.current,
			LatestVersion:   rel.Version,
			UpdateAvailable: cache.IsNewer(u.current, rel.Version),
		}, nil
	}

	latest, _ := u.checker.Latest(u.pkg, u.current)
	return &CheckResult{
		CurrentVersion:  u.current,
		LatestVersion:   latest,
		UpdateAvailable: cache.IsNewer(u.current, latest),
	}, nil
}

// NotifyIfDue returns the newer version the user should be reminded
// about, honoring the notification cooldown. It never hits the network.
func (u *Updater) NotifyIfDue() (string, bool) {
	if u.checker == nil || !u.checker.ShouldNotify(u.pkg, u.current) {
		return "", false
	}
	latest, _ := u.checker.Latest(u.pkg, u.current)
	u.checker.RecordNotified(u.pkg, u.current)
	return latest, true
}

// Apply runs the full pipeline. The returned Result always carries a
// terminal state; the error holds the failure detail when State is
// failed or rolled_back.
func (u *Updater) Apply(ctx context.Context) (*Result, error) {
	logger := logctx.From(ctx)
	result := &Result{State: StateChecking, FromVersion: u.current}

	rel, reason, err := u.resolveRelease(ctx)
	if err != nil {
		return fail(result, StateChecking), err
	}
	if rel == nil {
		result.State = StateDone
		result.Reason = reason
		logger.Info("no update applied", "reason", reason)
		return result, nil
	}
	result.ToVersion = rel.Version

	if u.policy != nil {
		allowed, err := u.policy.Allow(u.current, rel.Version)
		if err != nil {
			return fail(result, StateChecking), fmt.Errorf("evaluate update policy: %w", err)
		}
		if !allowed {
			result.State = StateDone
			result.Reason = "held by update policy"
			logger.Info("update held by policy", "current", u.current, "latest", rel.Version)
			return result, nil
		}
	}

	result.State = StateDownloading
	art, err := u.download(ctx, rel)
	if err != nil {
		return fail(result, StateDownloading), err
	}

	result.State = StateVerifying
	if err := u.verifyArtifact(ctx, art); err != nil {
		u.quarantine(ctx, art)
		return fail(result, StateVerifying), err
	}

	if err := u.stage(art); err != nil {
		return fail(result, StateVerifying), fmt.Errorf("stage verified artifact: %w", err)
	}

	result.State = StateBackingUp
	if err := u.backup(art); err != nil {
		return fail(result, StateBackingUp), err
	}
	logger.Info("backed up current executable", "path", art.backupPath)

	result.State = StateReplacing
	if err := atomicReplace(art.stagingPath, u.execPath); err != nil {
		replaceErr := &ReplaceFailedError{TargetPath: u.execPath, Err: err}
		if restoreErr := u.restore(art); restoreErr != nil {
			return fail(result, StateReplacing), fmt.Errorf("%w (restore also failed: %v)", replaceErr, restoreErr)
		}
		result.State = StateRolledBack
		result.FailedStage = StateReplacing
		return result, replaceErr
	}

	result.State = StateCleaningUp
	if err := u.smokeTest(ctx, u.execPath); err != nil {
		logger.Error("updated executable failed smoke test, rolling back",
			"version", rel.Version, "error", err)
		if restoreErr := u.restore(art); restoreErr != nil {
			return fail(result, StateCleaningUp), fmt.Errorf("smoke test failed: %w (restore also failed: %v)", err, restoreErr)
		}
		result.State = StateRolledBack
		result.FailedStage = StateCleaningUp
		return result, fmt.Errorf("smoke test failed: %w", err)
	}

	u.cleanup(ctx, art)

	result.State = StateDone
	result.Updated = true
	logger.Info("update complete", "from", u.current, "to", rel.Version)
	return result, nil
}

// resolveRelease decides whether an update should proceed and, if so,
// returns the release to install. A nil release with a reason means a
// clean no-op.
func (u *Updater) resolveRelease(ctx context.Context) (*release.Release, string, error) {
	// A fresh cached "no update" answer ends the run without touching
	// the network.
	if u.checker != nil && !u.checker.ShouldCheck(u.pkg, u.current) &&
		!u.checker.UpdateAvailable(u.pkg, u.current) {
		return nil, "no newer version (cached)", nil
	}

	rel, err := u.source.Latest(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("check for updates: %w", err)
	}
	if u.checker != nil {
		if err := u.checker.RecordLatest(u.pkg, u.current, rel.Version); err != nil {
			logctx.From(ctx).Warn("failed to cache version check", "error", err)
		}
	}

	if !cache.IsNewer(u.current, rel.Version) {
		return nil, fmt.Sprintf("already up to date (%s)", u.current), nil
	}
	return rel, "", nil
}

// artifact tracks one update's files through the pipeline.
type artifact struct {
	version       string
	downloadPath  string
	signaturePath string
	bundlePath    string
	stagingPath   string
	backupPath    string
	checksum      string
}

// download fetches the release asset and any signature sidecars through
// the cross-process download coordinator. The destination is named by
// version, so concurrent invocations share a single transfer and a new
// release never collides with an old cached artifact.
func (u *Updater) download(ctx context.Context, rel *release.Release) (*artifact, error) {
	logger := logctx.From(ctx)

	info, err := u.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}
	suffix := info.ExeSuffix()

	art := &artifact{
		version:      rel.Version,
		checksum:     rel.Checksum,
		downloadPath: filepath.Join(u.workDir, downloadsDir, u.pkg+"-"+rel.Version+suffix),
		stagingPath:  filepath.Join(u.workDir, stagingDir, u.pkg+"-"+rel.Version+suffix),
	}

	opts := fetch.DefaultDownloadOptions()
	opts.OnProgress = progressLogger(ctx, rel.Version)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		result, err := u.coord.Download(groupCtx, rel.URL, art.downloadPath, opts)
		if err != nil {
			return fmt.Errorf("download %s: %w", rel.URL, err)
		}
		logger.Info("downloaded update",
			"version", rel.Version,
			"size", humanize.Bytes(uint64(result.Size)))
		return nil
	})
	if rel.SignatureURL != "" && u.gpg != nil {
		art.signaturePath = art.downloadPath + ".sig"
		group.Go(func() error {
			_, err := u.coord.Download(groupCtx, rel.SignatureURL, art.signaturePath, fetch.DefaultOptions())
			if err != nil {
				return fmt.Errorf("download signature: %w", err)
			}
			return nil
		})
	}
	if rel.BundleURL != "" && u.bundle != nil {
		art.bundlePath = art.downloadPath + ".sigstore.json"
		group.Go(func() error {
			_, err := u.coord.Download(groupCtx, rel.BundleURL, art.bundlePath, fetch.DefaultOptions())
			if err != nil {
				return fmt.Errorf("download bundle: %w", err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return art, nil
}

// verifyArtifact enforces the checksum and any configured signature
// checks before the artifact is allowed near the install path.
func (u *Updater) verifyArtifact(ctx context.Context, art *artifact) error {
	logger := logctx.From(ctx)

	if err := verify.Checksum(art.downloadPath, art.checksum); err != nil {
		return err
	}
	logger.Debug("checksum verified", "path", art.downloadPath)

	if u.gpg != nil && art.signaturePath != "" {
		if err := u.gpg.Verify(art.downloadPath, art.signaturePath); err != nil {
			return fmt.Errorf("gpg verification: %w", err)
		}
		logger.Debug("gpg signature verified", "path", art.downloadPath)
	}
	if u.bundle != nil && art.bundlePath != "" {
		if err := u.bundle.Verify(art.downloadPath, art.bundlePath); err != nil {
			return fmt.Errorf("sigstore verification: %w", err)
		}
		logger.Debug("sigstore bundle verified", "path", art.downloadPath)
	}
	return nil
}

// stage copies the verified artifact next to the install path so the
// final swap is a same-filesystem rename.
func (u *Updater) stage(art *artifact) error {
	if err := os.MkdirAll(filepath.Dir(art.stagingPath), 0o755); err != nil {
		return err
	}
	return copyFile(art.downloadPath, art.stagingPath, executableMode)
}

// backup copies the current executable aside, named by the outgoing
// version and a timestamp.
func (u *Updater) backup(art *artifact) error {
	name := fmt.Sprintf("%s-%s-%d", u.pkg, u.current, time.Now().UnixMilli())
	art.backupPath = filepath.Join(u.workDir, backupsDir, name)

	if err := os.MkdirAll(filepath.Dir(art.backupPath), 0o755); err != nil {
		return &BackupFailedError{SourcePath: u.execPath, BackupPath: art.backupPath, Err: err}
	}

	srcInfo, err := os.Stat(u.execPath)
	if err != nil {
		return &BackupFailedError{SourcePath: u.execPath, BackupPath: art.backupPath, Err: err}
	}
	if err := copyFile(u.execPath, art.backupPath, srcInfo.Mode().Perm()); err != nil {
		return &BackupFailedError{SourcePath: u.execPath, BackupPath: art.backupPath, Err: err}
	}
	return nil
}

// restore puts the backup back over the install path.
func (u *Updater) restore(art *artifact) error {
	if art.backupPath == "" {
		return fmt.Errorf("no backup to restore")
	}
	restorePath := u.execPath + ".restore"
	if err := copyFile(art.backupPath, restorePath, executableMode); err != nil {
		return fmt.Errorf("copy backup: %w", err)
	}
	if err := os.Rename(restorePath, u.execPath); err != nil {
		os.Remove(restorePath)
		return fmt.Errorf("restore backup: %w", err)
	}
	return nil
}

// quarantine moves a rejected artifact out of the version-named download
// path. The bytes stay on disk for diagnostics, but a later attempt
// re-downloads instead of reusing them; the download-coordinator
// short-circuit would otherwise pin the bad artifact forever.
func (u *Updater) quarantine(ctx context.Context, art *artifact) {
	logger := logctx.From(ctx)

	rejectedPath := fmt.Sprintf("%s.rejected-%d", art.downloadPath, time.Now().UnixMilli())
	if err := os.Rename(art.downloadPath, rejectedPath); err != nil {
		// Could not move it aside; remove it so the next attempt is not
		// poisoned by the cache-hit short-circuit.
		os.Remove(art.downloadPath)
		logger.Warn("removed rejected update artifact", "path", art.downloadPath, "error", err)
	} else {
		logger.Warn("quarantined rejected update artifact", "path", rejectedPath)
	}

	for _, path := range []string{art.signaturePath, art.bundlePath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove rejected sidecar", "path", path, "error", err)
		}
	}
}

// cleanup removes the transient artifacts of a successful update and
// prunes all but the newest backup. Failures only warn; the update
// itself already succeeded.
func (u *Updater) cleanup(ctx context.Context, art *artifact) {
	logger := logctx.From(ctx)

	for _, path := range []string{art.downloadPath, art.signaturePath, art.bundlePath, art.stagingPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove update artifact", "path", path, "error", err)
		}
	}

	if err := u.pruneBackups(); err != nil {
		logger.Warn("failed to prune old backups", "error", err)
	}
}

// pruneBackups keeps only the newest backup file.
func (u *Updater) pruneBackups() error {
	dir := filepath.Join(u.workDir, backupsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= 1 {
		return nil
	}

	// Backup names embed an epoch-ms timestamp, so lexical order within
	// one package tracks age closely enough for pruning.
	sort.Strings(names)
	for _, name := range names[:len(names)-1] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func fail(result *Result, stage State) *Result {
	result.State = StateFailed
	result.FailedStage = stage
	return result
}

// progressLogger emits a log line per 10% of download progress.
func progressLogger(ctx context.Context, version string) fetch.ProgressFunc {
	logger := logctx.From(ctx)
	lastStep := -1

	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		step := int(downloaded * 100 / total / 10 * 10)
		if step <= lastStep {
			return
		}
		lastStep = step
		logger.Info("downloading update",
			"version", version,
			"progress", fmt.Sprintf("%d%%", step),
			"downloaded", humanize.Bytes(uint64(downloaded)),
			"total", humanize.Bytes(uint64(total)))
	}
}
