// Package cache provides a last-access-tracking key/value cache and a
// retriever that deduplicates concurrent fetches per key.
package cache

import (
	"sort"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Entry is a cached value with its access bookkeeping.
type Entry[T any] struct {
	Key            string
	Value          T
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Cache is a concurrency-safe map whose entries remember when they were last
// read or written.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
	now     Clock
}

// New creates an empty cache. A nil clock means time.Now.
func New[T any](clock Clock) *Cache[T] {
	if clock == nil {
		clock = time.Now
	}
	return &Cache[T]{
		entries: make(map[string]*Entry[T]),
		now:     clock,
	}
}

// Get returns the value for key and refreshes its last access time.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	e.LastAccessedAt = c.now()
	return e.Value, true
}

// Entry returns a copy of the entry for key without touching its access time.
func (c *Cache[T]) Entry(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Set stores value under key. Overwriting keeps CreatedAt.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.Value = value
		e.LastAccessedAt = now
		return
	}
	c.entries[key] = &Entry[T]{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// Clear removes key.
func (c *Cache[T]) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// ClearAll removes every entry.
func (c *Cache[T]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[T])
}

// ClearAllOlderThan removes entries not accessed within minAge and returns
// their keys in sorted order. Entries accessed exactly at the cutoff stay.
func (c *Cache[T]) ClearAllOlderThan(minAge time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-minAge)
	var evicted []string
	for key, e := range c.entries {
		if e.LastAccessedAt.Before(cutoff) {
			evicted = append(evicted, key)
			delete(c.entries, key)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Len returns the number of entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
