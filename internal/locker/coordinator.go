package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/kestrelsec/kestrel/internal/fetch"
	"github.com/kestrelsec/kestrel/internal/logctx"
)

const (
	// DefaultStaleTimeout is the lock age beyond which a holder is
	// presumed dead even if its pid still exists.
	DefaultStaleTimeout = 5 * time.Minute
	// DefaultPollInterval is how often waiters re-check the lock.
	DefaultPollInterval = time.Second
	// DefaultLockTimeout is how long a waiter polls before giving up.
	DefaultLockTimeout = 60 * time.Second
)

// LockTimeoutError indicates a waiter exhausted its polling budget while
// another process held the lock. Fatal for the call; the caller may
// retry later.
type LockTimeoutError struct {
	DestPath string
	Waited   time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for download lock on %s", e.Waited, e.DestPath)
}

// Config holds coordinator tuning. Zero values get the defaults above.
type Config struct {
	Client       *fetch.Client
	StaleTimeout time.Duration
	PollInterval time.Duration
	LockTimeout  time.Duration
}

// Coordinator serializes downloads to a destination path across
// independent OS processes.
type Coordinator struct {
	client       *fetch.Client
	staleTimeout time.Duration
	pollInterval time.Duration
	lockTimeout  time.Duration

	// Seams for deterministic tests.
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	pidAlive func(pid int) bool
}

// New creates a download lock coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Client == nil {
		cfg.Client = fetch.NewClient()
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = DefaultStaleTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	return &Coordinator{
		client:       cfg.Client,
		staleTimeout: cfg.StaleTimeout,
		pollInterval: cfg.PollInterval,
		lockTimeout:  cfg.LockTimeout,
		now:          time.Now,
		sleep:        sleepContext,
		pidAlive:     pidAlive,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pidAlive reports whether a process with the given pid exists.
func pidAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Download fetches url into destPath under the cross-process lock.
//
// A pre-existing destination short-circuits with zero network calls;
// cache invalidation is the caller's responsibility (version-qualified
// destination names). The lock sidecar is removed on both success and
// failure paths.
func (c *Coordinator) Download(ctx context.Context, url, destPath string, opts fetch.Options) (*fetch.Result, error) {
	logger := logctx.From(ctx)

	if result, ok := existingResult(destPath); ok {
		logger.Debug("destination already present, skipping download", "dest", destPath)
		return result, nil
	}

	path := lockPath(destPath)
	record := Record{
		PID:       os.Getpid(),
		StartTime: c.now().UnixMilli(),
		URL:       url,
	}

	if err := c.acquire(ctx, path, record, destPath); err != nil {
		if errors.Is(err, errDestinationAppeared) {
			if result, ok := existingResult(destPath); ok {
				return result, nil
			}
			return nil, fmt.Errorf("destination %s vanished while waiting for lock", destPath)
		}
		return nil, err
	}

	// A peer may have finished between our last poll and acquisition.
	if result, ok := existingResult(destPath); ok {
		if err := releaseLock(path); err != nil {
			return nil, err
		}
		return result, nil
	}

	result, err := c.client.Download(ctx, url, destPath, opts)
	if releaseErr := releaseLock(path); releaseErr != nil && err == nil {
		err = releaseErr
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("download complete", "dest", result.Path, "size", result.Size)
	return result, nil
}

// acquire obtains the lock, reclaiming stale holders and polling live
// ones up to the lock timeout. It returns nil holding the lock, or an
// error if the destination appeared (handled by the caller re-checking),
// the wait budget expired, or the context was cancelled.
func (c *Coordinator) acquire(ctx context.Context, path string, record Record, destPath string) error {
	logger := logctx.From(ctx)
	deadline := c.now().Add(c.lockTimeout)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := acquireLock(path, record)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire download lock: %w", err)
		}

		holder, ok, readErr := readLock(path)
		if readErr != nil && !os.IsNotExist(readErr) {
			return fmt.Errorf("read download lock: %w", readErr)
		}
		if os.IsNotExist(readErr) {
			// Holder released between our create and read; try again.
			continue
		}

		if !ok || c.isStale(holder) {
			logger.Warn("reclaiming stale download lock",
				"dest", destPath, "holder_pid", holder.PID, "age", holder.Age(c.now()))
			if err := releaseLock(path); err != nil {
				return err
			}
			continue
		}

		if c.now().After(deadline) {
			return &LockTimeoutError{DestPath: destPath, Waited: c.lockTimeout}
		}

		logger.Debug("waiting for download lock", "dest", destPath, "holder_pid", holder.PID)
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}

		// The holder may have completed while we slept.
		if _, statErr := os.Stat(destPath); statErr == nil {
			return errDestinationAppeared
		}
	}
}

// errDestinationAppeared is an internal signal: a waiting peer observed
// the destination materialize and should return it without downloading.
var errDestinationAppeared = errors.New("destination appeared while waiting")

// existingResult returns the short-circuit result for a destination that
// already exists as a non-empty regular file.
func existingResult(destPath string) (*fetch.Result, bool) {
	info, err := os.Stat(destPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return nil, false
	}
	return &fetch.Result{Path: destPath, Size: info.Size()}, true
}

func (c *Coordinator) isStale(r Record) bool {
	if r.Age(c.now()) > c.staleTimeout {
		return true
	}
	return !c.pidAlive(r.PID)
}
