package purfectdrive

import (
	"strconv"
	"sync"
)

// ImageCache maps a cell-run fingerprint to its encoded escape string.  The
// cache is shared between the encode workers, so operations are serialized;
// reads refresh the entry's last-used stamp and eviction on insert drops the
// entry with the smallest stamp.
type ImageCache struct {
	mu      sync.Mutex
	maxSize int
	stamp   int64
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	data     string
	lastUsed int64
}

// NewImageCache creates a cache bounded to maxSize entries.
func NewImageCache(maxSize int) *ImageCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &ImageCache{
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
	}
}

// MakeKey concatenates the per-cell fingerprints of a run into a cache key.
func MakeKey(cells []Cell) string {
	var sb []byte
	for _, c := range cells {
		sb = strconv.AppendUint(sb, c.Fingerprint(), 16)
		sb = append(sb, ':')
	}
	return string(sb)
}

// Get returns the encoded string for key, refreshing its stamp.
func (c *ImageCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.stamp++
	entry.lastUsed = c.stamp
	return entry.data, true
}

// Put inserts an encoding, evicting the least recently used entry when the
// cache is at capacity.
func (c *ImageCache) Put(key, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.stamp++
		entry.data = data
		entry.lastUsed = c.stamp
		return
	}
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		oldest := int64(-1)
		for k, e := range c.entries {
			if oldest < 0 || e.lastUsed < oldest {
				oldest = e.lastUsed
				oldestKey = k
			}
		}
		delete(c.entries, oldestKey)
	}
	c.stamp++
	c.entries[key] = &cacheEntry{data: data, lastUsed: c.stamp}
}

// Len returns the current entry count.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
