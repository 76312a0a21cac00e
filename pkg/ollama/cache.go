package ollama

import (
	"container/list"
	"context"
	"sync"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder is an LRU cache of embeddings keyed by text. Repeated queries
// skip the embedding round trip.
type CachedEmbedder struct {
	next     Embedder
	capacity int

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List

	hits, misses uint64
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCachedEmbedder wraps next with an LRU of the given capacity.
// A capacity <= 0 disables caching.
func NewCachedEmbedder(next Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{
		next:     next,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Embed returns the cached vector for text or embeds and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.get(text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(text, v)
	return v, nil
}

// Stats returns cache hit and miss counts.
func (c *CachedEmbedder) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).value, true
	}
	c.misses++
	return nil, false
}

func (c *CachedEmbedder) set(key string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}
