// ABOUTME: Thread-safe TTL cache of delivered message ids.
// ABOUTME: Realtime consumers use it to drop duplicate deliveries after reconnects.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry holds the delivery time and list position for a cached id.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks message ids a consumer has already applied. The realtime
// channel is at-least-once, so the same id can arrive again after a
// reconnect; SeenOrMark is the single atomic check consumers need. The
// cache is TTL-based and size-limited, with insertion order kept in a
// linked list for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List // ids in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedup cache with the given TTL and maximum size.
// A background goroutine periodically drops expired ids.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// SeenOrMark atomically checks whether id was already delivered and marks
// it if not. Returns true for a duplicate, false if the id is new and now
// recorded. A single atomic operation avoids the check/mark race between
// a live delivery and a catch-up fetch applying the same message.
func (c *Cache) SeenOrMark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.ids[id]
	if ok && time.Since(e.seenAt) < c.ttl {
		return true
	}

	c.markLocked(id)
	return false
}

// Mark records an id without checking it first. Used when seeding the
// cache from a catch-up fetch.
func (c *Cache) Mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(id)
}

func (c *Cache) markLocked(id string) {
	now := time.Now()

	if e, exists := c.ids[id]; exists {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.ids) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.ids[id] = &entry{seenAt: now, element: elem}
}

// evictOldest removes the oldest id. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.ids, id)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.ids {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.ids, id)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
