package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
)

// cacheEntry is the on-disk record for a single filename. Missing marks
// a filename that was looked up org-wide and not found, so later runs
// can skip it without re-querying.
type cacheEntry struct {
	Missing bool      `json:"missing,omitempty"`
	Data    *FileData `json:"data,omitempty"`
}

// Cache is a filesystem cache of resolved file data, one JSON file per
// document filename. Entries are written only after an authoritative
// retrieval, so a cache hit is always safe to reuse.
type Cache struct {
	dir string
	log *slog.Logger
}

// NewCache ensures dir exists and returns a cache rooted there.
func NewCache(dir string, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return &Cache{dir: dir, log: log}, nil
}

func (c *Cache) path(fname string) string {
	// Filenames may contain path separators; escape them so every entry
	// stays a single flat file under the cache root.
	return filepath.Join(c.dir, url.PathEscape(fname)+".json")
}

// Get returns the cached entry for fname, or nil if none exists.
// Unreadable or corrupt entries are treated as misses.
func (c *Cache) Get(fname string) *cacheEntry {
	data, err := os.ReadFile(c.path(fname))
	if err != nil {
		return nil
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn("discarding corrupt cache entry", "file", fname, "error", err)
		return nil
	}
	return &entry
}

// Put records resolved file data for fname.
func (c *Cache) Put(fname string, fd *FileData) {
	c.write(fname, &cacheEntry{Data: fd})
}

// PutMissing records that fname was not found anywhere in the org.
func (c *Cache) PutMissing(fname string) {
	c.write(fname, &cacheEntry{Missing: true})
}

func (c *Cache) write(fname string, entry *cacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn("failed to encode cache entry", "file", fname, "error", err)
		return
	}
	if err := os.WriteFile(c.path(fname), data, 0o644); err != nil {
		c.log.Warn("failed to write cache entry", "file", fname, "error", err)
	}
}
