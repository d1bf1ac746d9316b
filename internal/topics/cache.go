package topics

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache wraps a Source with a TTL. Concurrent misses for the same topic
// share one lookup. Not-found results are never cached, so a newly
// created topic becomes visible on the next request.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type cacheEntry struct {
	md      *Metadata
	expires time.Time
}

// NewCache creates a cache over src. A non-positive ttl disables caching.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// TopicMetadata implements Source.
func (c *Cache) TopicMetadata(ctx context.Context, name string) (*Metadata, error) {
	if c.ttl <= 0 {
		return c.src.TopicMetadata(ctx, name)
	}

	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.md, nil
	}

	// The shared lookup must not die with whichever caller started it.
	ch := c.group.DoChan(name, func() (any, error) {
		md, err := c.src.TopicMetadata(context.WithoutCancel(ctx), name)
		if err != nil {
			if errors.Is(err, ErrTopicNotFound) {
				c.Invalidate(name)
			}
			return nil, err
		}
		c.mu.Lock()
		c.entries[name] = cacheEntry{md: md, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return md, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Metadata), nil
	}
}

// Invalidate drops the cached snapshot for name.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Len returns the number of cached topics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
