package batch

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"ctroistats/internal/models"
)

// cachedVolume is a decoded volume together with the warnings raised while
// building it, so a cache hit reports the same integrity problems
type cachedVolume struct {
	volume      *models.Volume
	diagnostics []models.Diagnostic
}

// VolumeCache memoizes decoded volumes by their exact file set
type VolumeCache struct {
	entries *lru.Cache[string, cachedVolume]
}

// NewVolumeCache creates a cache bounded to size volumes. A size below one
// returns nil, which callers treat as caching disabled.
func NewVolumeCache(size int) (*VolumeCache, error) {
	if size < 1 {
		return nil, nil
	}
	entries, err := lru.New[string, cachedVolume](size)
	if err != nil {
		return nil, err
	}
	return &VolumeCache{entries: entries}, nil
}

// CacheKey identifies a series by its file paths, independent of order
func CacheKey(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func (c *VolumeCache) get(key string) (cachedVolume, bool) {
	if c == nil {
		return cachedVolume{}, false
	}
	return c.entries.Get(key)
}

func (c *VolumeCache) add(key string, v cachedVolume) {
	if c == nil {
		return
	}
	c.entries.Add(key, v)
}

// Len returns the number of cached volumes
func (c *VolumeCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
