// ABOUTME: Thread-safe TTL cache that makes client retries of one send exactly-once
// ABOUTME: Keys are (user, client message id); entries remember the message they produced

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Key identifies one user action. Client ids are only unique per user.
type Key struct {
	UserID   int64
	ClientID string
}

// Result describes what Begin found for a key.
type Result int

const (
	// Fresh means the key was unknown and is now claimed by the caller.
	Fresh Result = iota
	// InFlight means another attempt with this key has not finished yet.
	InFlight
	// Done means an earlier attempt succeeded; MessageID identifies its message.
	Done
)

// entry stores the claim time and outcome for a cached key.
type entry struct {
	key       Key
	claimed   time.Time
	messageID int64
	done      bool
	element   *list.Element
}

// Cache tracks recently claimed send actions. A key is claimed with Begin,
// then either Completed with the stored message id or Aborted so that a
// later retry may run. Size is bounded; the oldest claims are evicted first.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	order   *list.List // keys in claim order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a new dedupe cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	return newWithClock(ttl, maxSize, time.Now)
}

func newWithClock(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	c := &Cache{
		entries: make(map[Key]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Begin atomically looks up key and claims it if it is unknown or expired.
// For Done the returned id is the message the earlier attempt created.
func (c *Cache) Begin(key Key) (Result, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.claimed) < c.ttl {
			if e.done {
				return Done, e.messageID
			}
			return InFlight, 0
		}
		c.removeLocked(e)
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{key: key, claimed: now}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
	return Fresh, 0
}

// Complete records the message produced for a claimed key.
func (c *Cache) Complete(key Key, messageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.done = true
		e.messageID = messageID
	}
}

// Abort releases a claim whose send failed so the client may retry it.
func (c *Cache) Abort(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.done {
		c.removeLocked(e)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry)
	c.removeLocked(e)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes expired entries. Claims are ordered by time, so it
// stops at the first live one.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e, _ := front.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
