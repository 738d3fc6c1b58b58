package embedder

import (
	"container/list"
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
)

// Cached wraps any Embedder with an LRU cache keyed by FNV-1a hash of the
// input text, so repeated queries against the same text skip recomputing
// its embedding (§9: "hot loops... must not dispatch virtually per-vector"
// — a cache hit avoids the base embedder's dispatch entirely).
type Cached struct {
	base Embedder

	mu      sync.RWMutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	embedding []float32
}

// DefaultCacheSize is used when NewCached is given maxSize <= 0.
const DefaultCacheSize = 10000

// NewCached wraps base with an LRU cache of at most maxSize entries.
func NewCached(base Embedder, maxSize int) *Cached {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cached{
		base:    base,
		cache:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func hashText(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 36)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	c.mu.RLock()
	if elem, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)

		c.mu.Lock()
		c.lru.MoveToFront(elem)
		embedding := elem.Value.(*cacheEntry).embedding
		c.mu.Unlock()
		return embedding, nil
	}
	c.mu.RUnlock()
	atomic.AddUint64(&c.misses, 1)

	embedding, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).embedding, nil
	}
	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}
	elem := c.lru.PushFront(&cacheEntry{key: key, embedding: embedding})
	c.cache[key] = elem
	return embedding, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := hashText(text)
		c.mu.RLock()
		elem, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			atomic.AddUint64(&c.hits, 1)
			c.mu.Lock()
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			results[i] = elem.Value.(*cacheEntry).embedding
			continue
		}
		atomic.AddUint64(&c.misses, 1)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		embeddings, err := c.base.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for j, embedding := range embeddings {
			i := missIdx[j]
			results[i] = embedding
			key := hashText(missTexts[j])
			if _, ok := c.cache[key]; !ok {
				for c.lru.Len() >= c.maxSize {
					c.evictOldest()
				}
				c.cache[key] = c.lru.PushFront(&cacheEntry{key: key, embedding: embedding})
			}
		}
		c.mu.Unlock()
	}

	return results, nil
}

func (c *Cached) Dimensions() int { return c.base.Dimensions() }
func (c *Cached) Model() string   { return c.base.Model() }

// CacheStats reports hit/miss counters.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Stats returns the cache's current hit/miss/size counters.
func (c *Cached) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Hits:   atomic.LoadUint64(&c.hits),
		Misses: atomic.LoadUint64(&c.misses),
		Size:   c.lru.Len(),
	}
}

func (c *Cached) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.lru.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry).key)
}
