package embedding

import (
	"container/list"
	"sync"
)

// EmbeddingCache is an LRU of vectors keyed by trimmed text. Dialogue lines repeat a lot
// across reloads and query text repeats across users, so hits are common.
type EmbeddingCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	hits     uint64
	misses   uint64
	mu       sync.Mutex
}

type cachedVector struct {
	text string
	vec  []float32
}

// CacheStats is a point-in-time view of an EmbeddingCache.
type CacheStats struct {
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// NewEmbeddingCache creates a cache holding up to capacity vectors. A capacity of zero or
// less disables caching; Get then always misses.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the vector cached for text and marks it most recently used.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[text]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*cachedVector).vec, true
}

// Set stores vec for text, evicting the least recently used vector when full.
func (c *EmbeddingCache) Set(text string, vec []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[text]; ok {
		elem.Value.(*cachedVector).vec = vec
		c.order.MoveToFront(elem)
		return
	}
	c.entries[text] = c.order.PushFront(&cachedVector{text: text, vec: vec})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedVector).text)
	}
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns entry count, capacity and hit/miss counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:  c.order.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
