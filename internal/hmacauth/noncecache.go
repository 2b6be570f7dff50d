package hmacauth

import (
	"container/list"
	"sync"
	"time"
)

type nonceEntry struct {
	nonce   string
	expires time.Time
}

// NonceCache is a bounded, insertion-ordered replay cache. It is deliberately
// not built on otter (see SPEC_FULL.md §4.6): eviction here must walk entries
// oldest-first and stop at the first unexpired one, which otter's
// recency-based eviction does not expose.
type NonceCache struct {
	mu       sync.Mutex
	maxSize  int
	order    *list.List // front = oldest
	elements map[string]*list.Element
}

// NewNonceCache returns an empty cache bounded to maxSize entries.
func NewNonceCache(maxSize int) *NonceCache {
	return &NonceCache{
		maxSize:  maxSize,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// CheckAndAdd reports whether nonce is new (true, allowed) or already seen
// (false, replay). A newly admitted nonce expires after ttl and the cache
// evicts down to maxSize from the oldest entry once over capacity.
func (c *NonceCache) CheckAndAdd(nonce string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.evictExpiredLocked(now)

	if _, seen := c.elements[nonce]; seen {
		return false
	}

	el := c.order.PushBack(nonceEntry{nonce: nonce, expires: now.Add(ttl)})
	c.elements[nonce] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.elements, oldest.Value.(nonceEntry).nonce)
	}

	return true
}

// evictExpiredLocked removes expired entries from the front of the list,
// stopping at the first unexpired one -- insertion order means everything
// behind it is at least as fresh.
func (c *NonceCache) evictExpiredLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(nonceEntry)
		if now.Before(entry.expires) || now.Equal(entry.expires) {
			return
		}
		c.order.Remove(front)
		delete(c.elements, entry.nonce)
	}
}

// Clear empties the cache.
func (c *NonceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.elements = make(map[string]*list.Element)
}

// Size returns the current number of tracked nonces.
func (c *NonceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
