package embedding

import (
	"container/list"
	"crypto/sha1"
	"sync"
)

type digest [sha1.Size]byte

// LocalCache is the in-process tier of the embedding cache. Entries are keyed
// by the SHA-1 of the text so long table documents do not pin their content,
// and the least recently used entry is evicted at capacity.
type LocalCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[digest]*list.Element
	order    *list.List
	hits     uint64
	misses   uint64
}

type localEntry struct {
	key    digest
	vector []float32
}

// CacheStats reports local cache effectiveness.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// NewLocalCache holds up to capacity embeddings; capacity below one is raised to one.
func NewLocalCache(capacity int) *LocalCache {
	return &LocalCache{
		capacity: max(capacity, 1),
		entries:  make(map[digest]*list.Element),
		order:    list.New(),
	}
}

// Get returns a copy of the embedding cached for text.
func (c *LocalCache) Get(text string) ([]float32, bool) {
	key := sha1.Sum([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return append([]float32(nil), el.Value.(*localEntry).vector...), true
}

// Put stores a copy of vector for text.
func (c *LocalCache) Put(text string, vector []float32) {
	key := sha1.Sum([]byte(text))
	v := append([]float32(nil), vector...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*localEntry).vector = v
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&localEntry{key: key, vector: v})
	for c.order.Len() > c.capacity {
		tail := c.order.Back()
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(*localEntry).key)
	}
}

// Stats returns a snapshot of the counters.
func (c *LocalCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses}
}
