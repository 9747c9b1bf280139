// Package cache provides the keyed-TTL counter store backing rate limiting
// and suspicious-pattern tracking. Counters are the only shared state the
// validation core mutates outside the relationship and group records.
package cache

import (
	"context"
	"sync"
	"time"
)

// Counters is a time-windowed counter store. Increment must be atomic at the
// store layer: a read followed by a conditional write is not safe under
// concurrent requests from the same user or organization.
type Counters interface {
	// Increment adds one to the counter, starting a fresh window with the
	// given TTL if the key is absent or expired, and returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value, or zero if absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	// Set overwrites the counter value with the given TTL.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
}

type entry struct {
	value   int64
	expires time.Time
}

// InMemory implements Counters with in-process concurrency safety and a
// janitor loop that drops expired keys.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

var _ Counters = (*InMemory)(nil)

// NewInMemory creates a counter store and starts its janitor.
func NewInMemory() *InMemory {
	c := &InMemory{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.janitor(time.Minute)
	return c
}

// NewInMemoryWithClock creates a store with an injected time source and no
// janitor, for deterministic tests.
func NewInMemoryWithClock(now func() time.Time) *InMemory {
	return &InMemory{
		entries: make(map[string]*entry),
		now:     now,
		done:    make(chan struct{}),
	}
}

func (c *InMemory) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.entries[key]
	if !ok || now.After(e.expires) {
		e = &entry{expires: now.Add(ttl)}
		c.entries[key] = e
	}
	e.value++
	return e.value, nil
}

func (c *InMemory) Get(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return 0, nil
	}
	return e.value, nil
}

func (c *InMemory) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expires: c.now().Add(ttl)}
	return nil
}

// Close stops the janitor.
func (c *InMemory) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *InMemory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expires) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
