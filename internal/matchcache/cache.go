// Package matchcache persists name searches across runs so that names already
// matched are not searched again.
package matchcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ordermatch/internal/model"
)

// Stats summarizes cache contents.
type Stats struct {
	Entries     int `json:"entries"`
	WithResults int `json:"with_results"`
	Records     int `json:"records"`
}

// Cache maps a normalized name to the orders found for it. An entry holding
// an empty result marks a name searched without a match. A Cache is owned by
// one run and is not safe for concurrent use.
type Cache struct {
	path    string
	entries map[string]model.MatchResult
	dirty   bool

	flushOnce sync.Once
	flushErr  error
}

// New returns an empty cache that flushes to path. An empty path keeps the
// cache in memory only.
func New(path string) *Cache {
	return &Cache{path: path, entries: make(map[string]model.MatchResult)}
}

// Load reads the cache file at path. A missing file yields an empty cache; a
// malformed one is logged and also yields an empty cache.
func Load(path string) *Cache {
	c := New(path)
	if path == "" {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("match cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return c
	}
	if len(data) == 0 {
		return c
	}

	var entries map[string]model.MatchResult
	if err := json.Unmarshal(data, &entries); err != nil {
		zap.L().Warn("match cache malformed, starting empty", zap.String("path", path), zap.Error(err))
		return c
	}
	for k, v := range entries {
		if v == nil {
			v = model.MatchResult{}
		}
		c.entries[k] = v
	}
	zap.L().Debug("loaded match cache", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c
}

// Path returns the backing file, or "" for an in-memory cache.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the cached result for name and whether an entry exists.
func (c *Cache) Get(name string) (model.MatchResult, bool) {
	r, ok := c.entries[name]
	return r, ok
}

// Put stores result under name. An empty result never replaces a non-empty
// one; use Replace for a forced overwrite.
func (c *Cache) Put(name string, result model.MatchResult) {
	if len(result) == 0 {
		if prev, ok := c.entries[name]; ok && len(prev) > 0 {
			return
		}
	}
	c.Replace(name, result)
}

// Replace stores result under name unconditionally.
func (c *Cache) Replace(name string, result model.MatchResult) {
	if result == nil {
		result = model.MatchResult{}
	}
	c.entries[name] = result
	c.dirty = true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Stats counts entries, entries with results, and cached records.
func (c *Cache) Stats() Stats {
	s := Stats{Entries: len(c.entries)}
	for _, r := range c.entries {
		if len(r) > 0 {
			s.WithResults++
			s.Records += len(r)
		}
	}
	return s
}

// Names returns the cached names in sorted order.
func (c *Cache) Names() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Flush writes the cache to disk if it changed. Only the first call writes;
// later calls return the first call's error.
func (c *Cache) Flush() error {
	c.flushOnce.Do(func() {
		c.flushErr = c.write()
	})
	return c.flushErr
}

func (c *Cache) write() error {
	if c.path == "" || !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return eris.Wrap(err, "matchcache: marshal")
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "matchcache: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "matchcache: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "matchcache: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "matchcache: close temp file")
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return eris.Wrapf(err, "matchcache: rename to %s", c.path)
	}

	c.dirty = false
	zap.L().Info("match cache saved", zap.String("path", c.path), zap.Int("entries", len(c.entries)))
	return nil
}

// Clear removes the cache file at path. A missing file is not an error.
func Clear(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "matchcache: remove %s", path)
	}
	return nil
}
