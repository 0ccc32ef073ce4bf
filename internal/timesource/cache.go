package timesource

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes successful answers per (location, day). Concurrent misses
// for the same key share one upstream call. Failures are not cached.
type Cache struct {
	src Source

	mu      sync.Mutex
	entries map[string]Events
	day     string

	group singleflight.Group

	hits   uint64
	misses uint64
}

func NewCache(src Source) *Cache {
	return &Cache{src: src, entries: map[string]Events{}}
}

type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func (c *Cache) Today(ctx context.Context, location string, day time.Time) (Events, error) {
	dayKey := day.Format("2006-01-02")
	key := location + "|" + dayKey

	c.mu.Lock()
	// Entries from earlier days are never read again.
	if dayKey > c.day {
		c.entries = map[string]Events{}
		c.day = dayKey
	}
	if ev, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return ev, nil
	}
	c.misses++
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		ev, err := c.src.Today(ctx, location, day)
		if err != nil {
			return Events{}, err
		}
		c.mu.Lock()
		if dayKey >= c.day {
			c.entries[key] = ev
		}
		c.mu.Unlock()
		return ev, nil
	})
	if err != nil {
		return Events{}, err
	}
	return v.(Events), nil
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
