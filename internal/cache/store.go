package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one cached value. An entry is logically absent once
// fetchedAt+ttl < now, independent of physical presence. Timestamps and
// TTLs are epoch/duration milliseconds to keep the document portable.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt int64           `json:"fetchedAt"`
	TTL       int64           `json:"ttl"`
}

func (e Entry) expired(now time.Time) bool {
	return e.FetchedAt+e.TTL < now.UnixMilli()
}

// Store persists one namespace of key/value entries as a single JSON
// document. Safe for concurrent use within a process; cross-process
// writers are last-writer-wins at file granularity.
type Store struct {
	path string

	mu          sync.Mutex
	entries     map[string]Entry
	loaded      bool
	loadedMtime time.Time

	// now is injectable so expiry is testable without real timers.
	now func() time.Time
}

// NewStore creates a store for one namespace under the cache root.
func NewStore(root, namespace string) *Store {
	return &Store{
		path: filepath.Join(root, namespace+".json"),
		now:  time.Now,
	}
}

// Get returns the raw value for key, or ok=false when the key is
// missing or its TTL has lapsed.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		return nil, false
	}
	return entry.Value, true
}

// GetJSON unmarshals the value for key into out.
func (s *Store) GetJSON(key string, out any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Set stores value under key with the given TTL and persists the
// namespace document.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh()

	s.entries[key] = Entry{
		Value:     raw,
		FetchedAt: s.now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	}
	return s.persist()
}

// Invalidate removes key and persists the namespace document.
func (s *Store) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persist()
}

// refresh lazily loads the document and reloads it when another process
// has written a newer version. Corruption self-heals as an empty cache.
// Callers hold s.mu.
func (s *Store) refresh() {
	info, err := os.Stat(s.path)
	if err != nil {
		// Missing document is an empty cache; also forget any entries
		// loaded from a file that has since been removed.
		s.entries = make(map[string]Entry)
		s.loaded = true
		s.loadedMtime = time.Time{}
		return
	}

	if s.loaded && info.ModTime().Equal(s.loadedMtime) {
		return
	}

	s.entries = make(map[string]Entry)
	s.loaded = true
	s.loadedMtime = info.ModTime()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupt document: treat as empty, overwritten on next Set.
		return
	}
	s.entries = entries
}

// persist writes the document via temp+rename so readers never observe
// a partial write. Callers hold s.mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache document: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache document: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.loadedMtime = info.ModTime()
	}
	return nil
}
