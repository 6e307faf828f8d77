package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is a single cached value with its expiry.
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process LRU cache with per-entry TTL. It serves as
// the L1 tier in front of Redis: position lists and pool snapshots are read
// far more often than they change, and a hot entry here avoids a network
// round trip entirely.
type MemoryCache struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	c := &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached value or ErrNotFound. Expired entries are removed
// on access rather than waiting for the sweeper.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	element, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	e := element.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.remove(key)
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	c.mu.Lock()
	c.lru.MoveToFront(element)
	c.mu.Unlock()

	return e.value, nil
}

// Set stores a value under key for ttl, evicting the least recently used
// entry when the cache is full.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(element)
		return nil
	}

	element := c.lru.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = element

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest.Value.(*entry).key)
		}
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
	return nil
}

// Close stops the background sweeper.
func (c *MemoryCache) Close() error {
	close(c.stopCh)
	return nil
}

// remove deletes an entry. Caller must hold the write lock.
func (c *MemoryCache) remove(key string) {
	if element, ok := c.items[key]; ok {
		c.lru.Remove(element)
		delete(c.items, key)
	}
}

// sweep drops expired entries once a minute so idle keys don't pin memory
// until their next read.
func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := make([]string, 0)
	for key, element := range c.items {
		if now.After(element.Value.(*entry).expiresAt) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.remove(key)
	}
}

// Stats reports current and maximum entry counts.
func (c *MemoryCache) Stats() (size int, maxSize int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items), c.maxSize
}
