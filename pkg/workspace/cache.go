package workspace

import (
	"container/list"
	"sync"
	"time"
)

// CacheTTL is the fixed lifetime of a cached AuthConfig.
const CacheTTL = 5 * time.Minute

// DefaultCacheSize bounds the number of cached workspaces.
const DefaultCacheSize = 1024

// cacheEntry represents a single cached config with expiration.
type cacheEntry struct {
	config    AuthConfig
	expiresAt time.Time
	key       string
}

// Cache is a concurrency-safe LRU of AuthConfig values keyed by workspace
// id. Entries expire CacheTTL after they are written. Expired entries are
// removed lazily on Get; there is no background sweep.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lruList *list.List
	now     func() time.Time
}

// NewCache creates a Cache holding at most maxSize workspaces.
// A non-positive maxSize uses DefaultCacheSize.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}

	return &Cache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lruList: list.New(),
		now:     time.Now,
	}
}

// Get returns the config cached for workspaceID. An entry whose expiry has
// been reached is removed and reported absent.
func (c *Cache) Get(workspaceID string) (AuthConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[workspaceID]
	if !ok {
		return AuthConfig{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return AuthConfig{}, false
	}

	c.lruList.MoveToFront(elem)

	return entry.config, true
}

// Put stores config for workspaceID with a fresh CacheTTL, replacing any
// existing entry.
func (c *Cache) Put(workspaceID string, config AuthConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(CacheTTL)

	if elem, ok := c.items[workspaceID]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.config = config
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(elem)
		return
	}

	elem := c.lruList.PushFront(&cacheEntry{
		config:    config,
		expiresAt: expiresAt,
		key:       workspaceID,
	})
	c.items[workspaceID] = elem

	if c.lruList.Len() > c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Invalidate removes the entry for workspaceID.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[workspaceID]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lruList.Init()
}

// Len returns the number of entries, including any not yet lazily expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

// removeElement must be called with the lock held.
func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.lruList.Remove(elem)
}
