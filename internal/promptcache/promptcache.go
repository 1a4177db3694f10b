// Package promptcache persists generated remediation hints so repeat scans
// never regenerate the same hint. One JSON file backs a process-wide,
// mutex-guarded map; every mutation rewrites the file atomically.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// Entry is one cached hint.
type Entry struct {
	Prompt    string `json:"prompt"`
	CreatedAt string `json:"createdAt"`
}

// Key derives the cache key for a defect: type, title and the first 12 hex
// characters of the SHA-256 of the details. The details are hashed as given,
// so any difference in them, whitespace included, yields a different key.
func Key(defectType model.DefectType, title, details string) string {
	sum := sha256.Sum256([]byte(details))
	return fmt.Sprintf("%s::%s::%s", defectType, title, hex.EncodeToString(sum[:])[:12])
}

// Cache is the process-wide hint store.
type Cache struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
	logger  logging.Logger
}

// Open loads the cache file at path. A missing file is not an error; a
// corrupt one is logged and replaced by an empty cache.
func Open(path string, logger logging.Logger) (*Cache, error) {
	c := &Cache{
		path:    path,
		entries: map[string]Entry{},
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading prompt cache %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("prompt cache file is corrupt, starting empty",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "error", Value: err.Error()})
		c.entries = map[string]Entry{}
	}
	return c, nil
}

// Get returns the cached hint for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return entry.Prompt, true
}

// Put stores a hint under key (last writer wins) and persists the whole
// cache. A persistence failure keeps the in-memory state and is logged, not
// returned: hint caching must never fail a scan.
func (c *Cache) Put(key, prompt string) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Prompt:    prompt,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	err := c.persistLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("persisting prompt cache failed, keeping in-memory state",
			logging.Field{Key: "path", Value: c.path},
			logging.Field{Key: "error", Value: err.Error()})
	}
}

// Len reports the number of cached hints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// persistLocked writes the whole cache to a temp file and renames it into
// place, so a crash mid-write can never leave a torn file. Caller holds mu.
func (c *Cache) persistLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling prompt cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensuring cache dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".promptcache-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}
