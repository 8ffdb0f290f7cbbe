package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU of encoded documents bounded by entry count
// and total bytes. Entries older than the TTL are treated as misses.
type LRUCache struct {
	capacity int
	size     int64
	maxSize  int64
	ttl      time.Duration
	now      func() time.Time
	items    map[string]*list.Element
	order    *list.List
	stats    Stats
	mu       sync.Mutex
}

type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Len       int
	Bytes     int64
}

type cacheEntry struct {
	key      string
	data     []byte
	storedAt time.Time
}

// NewLRUCache creates a cache holding at most capacity entries and
// maxSizeBytes bytes. A zero ttl keeps entries until they are evicted.
func NewLRUCache(capacity int, maxSizeBytes int64, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity: capacity,
		maxSize:  maxSizeBytes,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.removeElement(elem)
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return entry.data, true
}

// Set adds or refreshes key. Documents larger than the byte budget are not
// cached at all.
func (c *LRUCache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dataSize := int64(len(data))
	if dataSize > c.maxSize {
		return
	}

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	for c.order.Len() >= c.capacity || (c.size+dataSize > c.maxSize && c.order.Len() > 0) {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, data: data, storedAt: c.now()}
	c.items[key] = c.order.PushFront(entry)
	c.size += dataSize
}

func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
}

func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Len = c.order.Len()
	s.Bytes = c.size
	return s
}

func (c *LRUCache) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

func (c *LRUCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.size -= int64(len(entry.data))
}
