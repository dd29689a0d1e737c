// Package cache holds the in-process TTL cache that sits in front of every
// upstream market data call.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a key/value store where each entry expires a fixed duration
// after it was set. Expired entries are evicted lazily on Get and by
// SweepExpired. There is no size bound.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty cache
func New[V any]() *TTLCache[V] {
	return &TTLCache[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the cached value. An expired entry is removed and reported as a miss.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any existing value and expiry
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet evicted
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SweepExpired removes every expired entry and returns how many were removed
func (c *TTLCache[V]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs SweepExpired every interval until the returned stop
// function is called.
func (c *TTLCache[V]) StartSweeper(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.SweepExpired()
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// Key builds a deterministic cache key from the source, the operation, the
// symbol set (order-insensitive) and any extra parameters.
func Key(source, op string, symbols []string, params ...string) string {
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		syms = append(syms, strings.ToLower(strings.TrimSpace(s)))
	}
	sort.Strings(syms)

	var b strings.Builder
	b.WriteString(source)
	b.WriteByte(':')
	b.WriteString(op)
	b.WriteByte(':')
	b.WriteString(strings.Join(syms, ","))
	for _, p := range params {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
