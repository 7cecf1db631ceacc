package ai

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// EmbedCache persists chunk vectors on disk so re-ingesting an unchanged
// document skips the embedding service entirely. Keys are content hashes
// (see utils.EmbedCacheKey), one JSON file per vector.
type EmbedCache struct {
	dir string
}

func NewEmbedCache(dir string) (*EmbedCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &EmbedCache{dir: dir}, nil
}

func (c *EmbedCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached vector, or nil when absent or unreadable.
func (c *EmbedCache) Get(key string) []float32 {
	if key == "" {
		return nil
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		// Corrupt entry, drop it
		os.Remove(c.path(key))
		return nil
	}
	return vec
}

// Put stores the vector. Cache failures are logged, never fatal.
func (c *EmbedCache) Put(key string, vec []float32) {
	if key == "" || len(vec) == 0 {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Warn("Embed cache write failed", "key", key, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		logger.Warn("Embed cache rename failed", "key", key, "error", err)
	}
}

// Clear removes every cached vector.
func (c *EmbedCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}
