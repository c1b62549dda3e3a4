// Package memory is an in-process cache driver. It only suits a single
// replica: rotation and rate limits are not shared with other instances.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
)

type entry struct {
	value   string
	expires time.Time // zero = never
}

type Cache struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items map[string]entry
}

var _ cache.Cache = (*Cache)(nil)

func New(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock, items: make(map[string]entry)}
}

// lookup returns the live entry for key, evicting it if expired. Callers
// hold mu.
func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !c.clock.Now().Before(e.expires) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		return "", cache.ErrMiss
	}
	return e.value, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry{value: value, expires: c.expiry(ttl)}
	return nil
}

func (c *Cache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.items, k)
	}
	return nil
}

func (c *Cache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		c.items[key] = entry{value: "1", expires: c.expiry(ttl)}
		return 1, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	c.items[key] = e
	return n, nil
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.items {
		if _, ok := c.lookup(k); !ok {
			removed++
		}
	}
	return removed
}

func (c *Cache) Ping(context.Context) error { return nil }
func (c *Cache) Close() error               { return nil }

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.clock.Now().Add(ttl)
}
