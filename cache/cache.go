// Package cache remembers which repository files are already present locally.
//
// Entries are keyed by "{repo}:{ref}:{path}" and persisted as a single JSON
// document. A corrupt or unreadable document is treated as an empty cache.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	FileName = "cache_metadata.json"

	// every flushEvery-th entry triggers a save
	flushEvery = 5
	// caches this small are saved on every add
	smallCache = 3
)

var validate = validator.New()

// Entry is the persisted record of one cached file.
type Entry struct {
	FilePath     string            `json:"file_path"`
	SHA          string            `json:"sha"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	DownloadTime time.Time         `json:"download_time"`
	Checksums    map[string]string `json:"checksums"`
}

// IsCurrent reports whether the entry matches the remote hash and size.
func (e Entry) IsCurrent(sha string, size int64) bool {
	return e.SHA == sha && e.Size == size
}

// storedEntry mirrors Entry with pointer fields so that missing keys in the
// document can be told apart from zero values.
type storedEntry struct {
	FilePath     *string           `json:"file_path" validate:"required"`
	SHA          *string           `json:"sha" validate:"required"`
	Size         *int64            `json:"size" validate:"required"`
	LastModified *time.Time        `json:"last_modified" validate:"required"`
	DownloadTime *time.Time        `json:"download_time" validate:"required"`
	Checksums    map[string]string `json:"checksums"`
}

// Key builds the cache key of a repository file.
func Key(repo, ref, path string) string {
	return fmt.Sprintf("%s:%s:%s", repo, ref, path)
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries   int
	TotalSize int64
	Oldest    time.Time
	Newest    time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	fs   afero.Fs
	dir  string
	file string
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]Entry

	// serializes writes of the backing document
	saveMu sync.Mutex

	now func() time.Time
}

// DefaultDir returns ~/.gh-folder-download/cache.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gh-folder-download", "cache"), nil
}

// New opens the cache stored in dir on fs, creating dir if needed.
func New(fs afero.Fs, dir string, log zerolog.Logger) (*Cache, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		fs:      fs,
		dir:     dir,
		file:    filepath.Join(dir, FileName),
		log:     log.With().Str("component", "cache").Logger(),
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	c.load()
	return c, nil
}

// Dir returns the directory holding the backing document.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) load() {
	data, err := afero.ReadFile(c.fs, c.file)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Msg("failed to load cache, starting fresh")
		} else {
			c.log.Debug().Msg("no existing cache found, starting fresh")
		}
		return
	}

	entries, err := decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to load cache, starting fresh")
		return
	}
	c.entries = entries
	c.log.Debug().Int("entries", len(entries)).Msg("loaded cache")
}

func decode(data []byte) (map[string]Entry, error) {
	var doc map[string]storedEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	entries := make(map[string]Entry, len(doc))
	for key, s := range doc {
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}
		entries[key] = Entry{
			FilePath:     *s.FilePath,
			SHA:          *s.SHA,
			Size:         *s.Size,
			LastModified: *s.LastModified,
			DownloadTime: *s.DownloadTime,
			Checksums:    s.Checksums,
		}
	}
	return entries, nil
}

// save writes a snapshot of the entries. Failures are logged, not returned,
// since a stale document only costs re-downloads.
func (c *Cache) save() {
	// held across snapshot and write so documents land in snapshot order
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	n := len(c.entries)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to encode cache")
		return
	}

	tmp := c.file + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0o644); err != nil {
		c.log.Warn().Err(err).Msg("failed to save cache")
		return
	}
	if err := c.fs.Rename(tmp, c.file); err != nil {
		c.log.Warn().Err(err).Msg("failed to save cache")
		return
	}
	c.log.Debug().Int("entries", n).Msg("saved cache")
}

// IsFileCached reports whether the file at localPath is a current copy of
// the remote file. Entries whose local file vanished or changed size are
// evicted.
func (c *Cache) IsFileCached(repo, path, ref, sha string, size int64, localPath string) bool {
	key := Key(repo, ref, path)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.log.Debug().Str("path", path).Msg("no cache entry")
		return false
	}

	info, err := c.fs.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.log.Debug().Str("path", localPath).Msg("cached file no longer exists")
		} else {
			c.log.Warn().Err(err).Str("path", localPath).Msg("failed to check local file size")
		}
		delete(c.entries, key)
		return false
	}

	if !entry.IsCurrent(sha, size) {
		c.log.Debug().Str("path", path).Msg("cache entry outdated")
		return false
	}

	if info.Size() != entry.Size {
		c.log.Warn().Str("path", path).Int64("expected", entry.Size).Int64("actual", info.Size()).Msg("local file size mismatch")
		delete(c.entries, key)
		return false
	}

	c.log.Debug().Str("path", path).Msg("file is cached and current")
	return true
}

// Add records a cached file. The document is saved every fifth entry and
// while the cache holds at most three entries.
func (c *Cache) Add(repo, path, ref, sha string, size int64, localPath string, checksums map[string]string) {
	now := c.now().UTC()
	modified := now
	if info, err := c.fs.Stat(localPath); err == nil {
		modified = info.ModTime().UTC()
	}
	if checksums == nil {
		checksums = map[string]string{}
	}

	c.mu.Lock()
	c.entries[Key(repo, ref, path)] = Entry{
		FilePath:     path,
		SHA:          sha,
		Size:         size,
		LastModified: modified,
		DownloadTime: now,
		Checksums:    checksums,
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.log.Debug().Str("path", path).Msg("added file to cache")

	if n%flushEvery == 0 || n <= smallCache {
		c.save()
	}
}

// Checksums returns the checksums recorded for a file, if any.
func (c *Cache) Checksums(repo, path, ref string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key(repo, ref, path)]
	if !ok {
		return nil, false
	}
	return e.Checksums, true
}

// Clean removes entries cached more than maxAgeDays ago and returns how
// many were removed.
func (c *Cache) Clean(maxAgeDays int) int {
	cutoff := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if e.DownloadTime.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.save()
		c.log.Info().Int("removed", removed).Msg("cleaned old cache entries")
	}
	return removed
}

// Clear drops every entry and deletes the backing document.
func (c *Cache) Clear() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if err := c.fs.Remove(c.file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	c.log.Info().Msg("cache cleared")
	return nil
}

// Finalize saves the document if the cache holds any entries. Call it at
// the end of a download session.
func (c *Cache) Finalize() {
	if c.Len() == 0 {
		return
	}
	c.save()
	c.log.Debug().Msg("cache finalized")
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	for _, e := range c.entries {
		s.Entries++
		s.TotalSize += e.Size
		if s.Oldest.IsZero() || e.DownloadTime.Before(s.Oldest) {
			s.Oldest = e.DownloadTime
		}
		if e.DownloadTime.After(s.Newest) {
			s.Newest = e.DownloadTime
		}
	}
	return s
}
