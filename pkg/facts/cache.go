package facts

import (
	"context"
	"strings"
	"sync"
)

// Querier issues one remote fact probe. Connector sessions implement it.
type Querier interface {
	QueryFact(ctx context.Context, kind, args string) (any, error)
}

type cacheKey struct {
	host string
	kind string
	args string
}

type cacheEntry struct {
	done  chan struct{}
	value any
	err   error
}

// Cache memoizes fact query outcomes per (host, kind, args) for one run.
// Both values and errors are stored; entries live until the run ends.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	hits    int64
	misses  int64
}

// NewCache creates an empty fact cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]*cacheEntry),
	}
}

// Get returns the fact for (host, kind, args), issuing the remote query
// through q on first access. Concurrent callers for the same triple share
// one in-flight query: the first caller issues it, the rest block until
// its outcome is stored. A waiting caller whose context ends returns the
// context error without disturbing the flight.
func (c *Cache) Get(ctx context.Context, host string, q Querier, kind, args string) (any, error) {
	key := cacheKey{host: host, kind: kind, args: strings.TrimSpace(args)}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		select {
		case <-entry.done:
			return entry.value, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = entry
	c.misses++
	c.mu.Unlock()

	entry.value, entry.err = q.QueryFact(ctx, kind, args)
	close(entry.done)
	return entry.value, entry.err
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached triples.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HostView binds a cache and querier to one host, satisfying the fact
// access operations see at diff time.
type HostView struct {
	cache *Cache
	q     Querier
	host  string
}

// NewHostView creates the per-host fact view handed to operations.
func NewHostView(cache *Cache, q Querier, host string) *HostView {
	return &HostView{cache: cache, q: q, host: host}
}

// Get returns the fact for (kind, args) on the bound host.
func (v *HostView) Get(ctx context.Context, kind, args string) (any, error) {
	return v.cache.Get(ctx, v.host, v.q, kind, args)
}
