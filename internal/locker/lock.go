package locker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is the lock sidecar payload. StartTime is epoch milliseconds so
// the on-disk format stays language-neutral.
type Record struct {
	PID       int    `json:"pid"`
	StartTime int64  `json:"startTime"`
	URL       string `json:"url"`
}

// Age returns how long the lock has been held as of now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.StartTime))
}

// lockPath returns the sidecar path guarding destPath.
func lockPath(destPath string) string {
	name := sanitizeName(filepath.Base(destPath))
	return filepath.Join(filepath.Dir(destPath), ".locks", name+".lock")
}

// sanitizeName makes a destination basename safe as a lock filename.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// acquireLock atomically creates the sidecar. os.ErrExist means another
// process holds the lock.
func acquireLock(path string, record Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("marshal lock record: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write lock record: %w", err)
	}

	return f.Close()
}

// readLock loads the sidecar. A sidecar that vanished returns
// os.ErrNotExist; an unreadable or corrupt sidecar returns ok=false so
// the caller treats it as stale.
func readLock(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, nil
	}
	return record, true, nil
}

// releaseLock removes the sidecar. A missing sidecar is not an error.
func releaseLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}
