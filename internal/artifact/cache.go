// File path: internal/artifact/cache.go
package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nchandrav/phasegate/internal/common"
)

// Cache memoizes generated artifact content for one session. It prevents
// regenerating artifacts already produced during the current run and acts as
// the seeding point for content inherited from previously approved phases.
type Cache struct {
	mu      sync.RWMutex
	entries map[Type]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Type]string)}
}

func (c *Cache) Has(t Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[t]
	return ok
}

func (c *Cache) Get(t Type) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[t]
	return content, ok
}

func (c *Cache) Set(t Type, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t] = content
}

// Remove evicts a single entry. Phase rejection uses this to force
// regeneration of the rejected phase's artifacts on retry.
func (c *Cache) Remove(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, t)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Types returns the cached artifact types in canonical order.
func (c *Cache) Types() []Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Type, 0, len(c.entries))
	for _, t := range generationOrder {
		if _, ok := c.entries[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Entries returns a copy of the cached content keyed by type.
func (c *Cache) Entries() map[Type]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Type]string, len(c.entries))
	for t, content := range c.entries {
		out[t] = content
	}
	return out
}

// LoadFromDir pre-populates the cache from files previously written with the
// static type-to-filename table. Empty and unreadable files are skipped.
// Returns the number of entries loaded.
func (c *Cache) LoadFromDir(dir string) int {
	logger := common.Logger()
	if strings.TrimSpace(dir) == "" {
		return 0
	}
	loaded := 0
	for _, t := range generationOrder {
		path := filepath.Join(dir, t.Filename())
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("artifact: cache load failed", "path", path, "error", err)
			}
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		c.Set(t, string(data))
		loaded++
	}
	if loaded > 0 {
		logger.Debug("artifact: cache seeded from disk", "dir", dir, "entries", loaded)
	}
	return loaded
}
