// Package contextcache keeps a bounded set of recent request contexts so
// follow-up requests can refer back to them by request ID.
package contextcache

import (
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultCapacity is used when a non-positive capacity is given.
const DefaultCapacity = 10

// Cache maps request IDs to context snapshots. When an insert would exceed
// capacity, the entries with the oldest CapturedAt are evicted first.
type Cache struct {
	cache    *ttlcache.Cache[uint64, domain.ContextSnapshot]
	capacity int
}

// New creates a cache holding at most capacity entries. A ttl of zero keeps
// entries until they are evicted by capacity.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := ttlcache.New[uint64, domain.ContextSnapshot](
		ttlcache.WithTTL[uint64, domain.ContextSnapshot](ttl),
		ttlcache.WithDisableTouchOnHit[uint64, domain.ContextSnapshot](),
	)
	go c.Start()
	return &Cache{cache: c, capacity: capacity}
}

// Close stops the expiration loop.
func (c *Cache) Close() {
	c.cache.Stop()
}

// Put stores snap under requestID, evicting the oldest entries if needed.
func (c *Cache) Put(requestID uint64, snap domain.ContextSnapshot) {
	if !c.cache.Has(requestID) {
		for c.cache.Len() >= c.capacity {
			if !c.evictOldest() {
				break
			}
		}
	}
	c.cache.Set(requestID, snap, ttlcache.DefaultTTL)
}

// Get returns the snapshot stored for requestID.
func (c *Cache) Get(requestID uint64) (domain.ContextSnapshot, bool) {
	item := c.cache.Get(requestID)
	if item == nil {
		return domain.ContextSnapshot{}, false
	}
	return item.Value(), true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.cache.DeleteAll()
}

// evictOldest removes the entry with the smallest CapturedAt, breaking ties
// on the smaller request ID.
func (c *Cache) evictOldest() bool {
	var (
		oldestKey uint64
		oldestAt  time.Time
		found     bool
	)
	for key, item := range c.cache.Items() {
		at := item.Value().CapturedAt
		if !found || at.Before(oldestAt) || (at.Equal(oldestAt) && key < oldestKey) {
			oldestKey, oldestAt, found = key, at, true
		}
	}
	if found {
		c.cache.Delete(oldestKey)
	}
	return found
}
