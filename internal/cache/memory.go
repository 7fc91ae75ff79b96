package cache

import (
	"container/list"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/forge/internal/engine"
)

// MemoryCache is a byte-bounded in-memory LRU engine cache.
type MemoryCache struct {
	mu      sync.Mutex
	budget  int64
	used    int64
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type memoryEntry struct {
	fingerprint string
	result      *engine.CompiledEngine
	size        int64
}

// NewMemoryCache creates a cache holding at most budget bytes of
// serialized engines.
func NewMemoryCache(budget int64) *MemoryCache {
	return &MemoryCache{
		budget:  budget,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Lookup(fingerprint string) (*engine.CompiledEngine, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	// Clone so callers cannot mutate the cached copy.
	return el.Value.(*memoryEntry).result.Clone(), true, nil
}

func (c *MemoryCache) Store(fingerprint string, result *engine.CompiledEngine) error {
	size := result.Size()
	if size > c.budget {
		klog.Warningf("engine %s (%d bytes) exceeds cache budget (%d bytes), not caching", result.ID, size, c.budget)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fingerprint]; ok {
		c.used -= el.Value.(*memoryEntry).size
		c.order.Remove(el)
		delete(c.entries, fingerprint)
	}

	for c.used+size > c.budget {
		back := c.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*memoryEntry)
		c.used -= evicted.size
		c.order.Remove(back)
		delete(c.entries, evicted.fingerprint)
		klog.V(2).Infof("evicted engine %s from memory cache", evicted.result.ID)
	}

	el := c.order.PushFront(&memoryEntry{fingerprint: fingerprint, result: result.Clone(), size: size})
	c.entries[fingerprint] = el
	c.used += size
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
