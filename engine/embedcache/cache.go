// Package embedcache is a bounded, concurrency-safe cache for reference-text
// embeddings. Concurrent misses for the same key are collapsed into a single
// provider fetch; capacity overflow evicts the least-recently-used entry.
package embedcache

import (
	"context"
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/speechsim/speechsim/engine/domain"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1024

// FetchFunc produces an embedding on a cache miss.
type FetchFunc func(ctx context.Context) (domain.EmbeddingVector, error)

type entry struct {
	key        string
	vector     domain.EmbeddingVector
	createdAt  time.Time
	lastAccess time.Time
}

// Cache is an LRU embedding cache with single-flight fetch. There is no
// TTL: reference documents are assumed stable for the process lifetime, and
// Invalidate covers document edits.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	flight   singleflight.Group
	now      func() time.Time
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Key derives the cache key for a (text, model) pair: the content hash keeps
// arbitrarily long documents out of map keys.
func Key(text, model string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + ":" + model
}

// GetOrFetch returns the cached vector for (text, model), or invokes fetch
// exactly once across all concurrent callers for the same key and caches the
// result. Fetch failures are returned to every waiter and never cached.
func (c *Cache) GetOrFetch(ctx context.Context, text, model string, fetch FetchFunc) (domain.EmbeddingVector, error) {
	key := Key(text, model)

	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A racing caller may have populated the key while we queued.
		if vec, ok := c.lookup(key); ok {
			return vec, nil
		}
		vec, err := fetch(ctx)
		if err != nil {
			return domain.EmbeddingVector{}, err
		}
		c.insert(key, vec)
		return vec, nil
	})
	if err != nil {
		return domain.EmbeddingVector{}, err
	}
	return v.(domain.EmbeddingVector), nil
}

// Invalidate drops the entry for (text, model) if present.
func (c *Cache) Invalidate(text, model string) {
	key := Key(text, model)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (domain.EmbeddingVector, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return domain.EmbeddingVector{}, false
	}
	e := el.Value.(*entry)
	e.lastAccess = c.now()
	c.order.MoveToFront(el)
	return e.vector, true
}

func (c *Cache) insert(key string, vec domain.EmbeddingVector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.vector = vec
		e.lastAccess = c.now()
		c.order.MoveToFront(el)
		return
	}

	now := c.now()
	el := c.order.PushFront(&entry{key: key, vector: vec, createdAt: now, lastAccess: now})
	c.entries[key] = el

	if len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
		}
	}
}
