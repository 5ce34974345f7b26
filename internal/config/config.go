package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kestrelsec/kestrel/internal/logctx"
)

// ParseError represents an unreadable or malformed config file. Unlike
// cache documents, user configuration is never silently discarded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Manager caches the parsed config keyed by the source file's mtime.
type Manager struct {
	path string

	mu          sync.Mutex
	cached      map[string]any
	sourceMtime time.Time
	hasCache    bool

	// statFn is injectable so revalidation is testable without files.
	statFn func(string) (os.FileInfo, error)
}

// NewManager creates a config manager for the given file path.
func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		statFn: os.Stat,
	}
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Get returns the parsed config, always consistent with disk. External
// edits, whether manual or from a concurrent invocation, are visible on the
// very next call.
func (m *Manager) Get(ctx context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revalidate(ctx); err != nil {
		return nil, err
	}

	// Copy so callers cannot mutate the cached parse.
	out := make(map[string]any, len(m.cached))
	for k, v := range m.cached {
		out[k] = v
	}
	return out, nil
}

// Value returns one config key. ok is false for absent keys.
func (m *Manager) Value(ctx context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revalidate(ctx); err != nil {
		return nil, false, err
	}

	v, ok := m.cached[key]
	return v, ok, nil
}

// StringValue returns one config key as a string, empty when absent or
// not a string.
func (m *Manager) StringValue(ctx context.Context, key string) (string, error) {
	v, ok, err := m.Value(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// SetValue updates one key and writes the config back atomically. The
// write is based on a fresh read so edits from concurrent invocations
// are not clobbered beyond the single key.
func (m *Manager) SetValue(ctx context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revalidate(ctx); err != nil {
		return err
	}

	if m.cached == nil {
		m.cached = make(map[string]any)
	}
	m.cached[key] = value

	return m.persist()
}

// Unset removes one key and writes the config back atomically.
func (m *Manager) Unset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.revalidate(ctx); err != nil {
		return err
	}

	if _, ok := m.cached[key]; !ok {
		return nil
	}
	delete(m.cached, key)

	return m.persist()
}

// revalidate brings the cached parse in line with disk. Callers hold m.mu.
func (m *Manager) revalidate(ctx context.Context) error {
	info, err := m.statFn(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Absent file: clear any cached record, empty default.
			m.cached = make(map[string]any)
			m.sourceMtime = time.Time{}
			m.hasCache = true
			return nil
		}
		return fmt.Errorf("stat config: %w", err)
	}

	if m.hasCache && info.ModTime().Equal(m.sourceMtime) {
		return nil
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return &ParseError{Path: m.path, Err: err}
	}
	if parsed == nil {
		parsed = make(map[string]any)
	}

	logctx.From(ctx).Debug("reloaded config", "path", m.path, "mtime", info.ModTime())

	m.cached = parsed
	m.sourceMtime = info.ModTime()
	m.hasCache = true
	return nil
}

// persist writes the cached config via temp+rename and records the new
// mtime. Callers hold m.mu.
func (m *Manager) persist() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(m.cached, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}

	if info, err := m.statFn(m.path); err == nil {
		m.sourceMtime = info.ModTime()
	}
	return nil
}
