// ABOUTME: TTL cache mapping client idempotency tokens to cached start responses
// ABOUTME: Entries self-heal; a hit is honored only while its session is still live

package session

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultCorrelationTTL bounds how long a retried start is recognized
	// as a duplicate; independent of the session idle timeout.
	DefaultCorrelationTTL = 60 * time.Second

	// DefaultCorrelationMaxSize caps the cache; the oldest entry is evicted
	// to make room.
	DefaultCorrelationMaxSize = 1024
)

// correlationEntry stores the cached start response and bookkeeping for a key.
type correlationEntry struct {
	conversationID string
	response       any
	expiresAt      time.Time
	element        *list.Element
}

// CorrelationCache maps a client-supplied correlation token to the response
// produced by the first start carrying it. A doubly-linked list maintains
// insertion order for O(1) capacity eviction; expired entries and entries
// whose session has died are evicted lazily on access.
type CorrelationCache struct {
	mu      sync.Mutex
	entries map[string]*correlationEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	alive   func(conversationID string) bool
	now     func() time.Time
}

// CorrelationOptions configures a CorrelationCache. Zero values take
// defaults. Alive is required: it reports whether a conversation id still
// has a live session.
type CorrelationOptions struct {
	TTL     time.Duration
	MaxSize int
	Alive   func(conversationID string) bool
	Now     func() time.Time // test hook
}

// NewCorrelationCache creates an empty cache.
func NewCorrelationCache(opts CorrelationOptions) *CorrelationCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCorrelationTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultCorrelationMaxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CorrelationCache{
		entries: make(map[string]*correlationEntry),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		alive:   opts.Alive,
		now:     opts.Now,
	}
}

// Lookup returns the cached response for a correlation id. A miss, an
// expired entry, or an entry referencing a dead session returns ok=false;
// the latter two are evicted in place so an entry never outlives its
// session by more than one access.
func (c *CorrelationCache) Lookup(correlationID string) (conversationID string, response any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[correlationID]
	if !exists {
		return "", nil, false
	}
	if c.now().After(entry.expiresAt) || !c.alive(entry.conversationID) {
		c.order.Remove(entry.element)
		delete(c.entries, correlationID)
		return "", nil, false
	}
	return entry.conversationID, entry.response, true
}

// Store records the response produced for a correlation id. An existing
// entry for the same id is replaced with a fresh TTL.
func (c *CorrelationCache) Store(correlationID, conversationID string, response any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[correlationID]; exists {
		entry.conversationID = conversationID
		entry.response = response
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(correlationID)
	c.entries[correlationID] = &correlationEntry{
		conversationID: conversationID,
		response:       response,
		expiresAt:      c.now().Add(c.ttl),
		element:        elem,
	}
}

// Sweep removes every expired entry. Run from the same background ticker as
// the session registry sweep.
func (c *CorrelationCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries.
func (c *CorrelationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the oldest entry. Must be called with mu held.
func (c *CorrelationCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}
