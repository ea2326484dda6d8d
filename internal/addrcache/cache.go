// Package addrcache memoizes per-address hardware lookups.
//
// A successful lookup is cached for the life of the process. A failed
// lookup is cached as a negative entry and answered with Unknown without
// retrying, until it expires (when a negative TTL is configured) or is
// explicitly invalidated. Addresses outside locally-routable ranges never
// reach the lookup.
package addrcache

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"visualinternet/internal/domain"
)

const (
	// Unknown is returned for addresses whose lookup failed
	Unknown = domain.Unknown

	// External is returned for addresses that are not locally routable
	External = "unavailable - external network"
)

// LookupFunc resolves an address to a hardware address
type LookupFunc func(ctx context.Context, addr string) (string, error)

type entry struct {
	mac string
	ok  bool
	at  time.Time
}

// Cache is safe for concurrent use
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	group       singleflight.Group
	lookup      LookupFunc
	negativeTTL time.Duration
	now         func() time.Time
}

// New creates a cache over lookup. A zero negativeTTL keeps failed lookups
// for the life of the process.
func New(lookup LookupFunc, negativeTTL time.Duration) *Cache {
	return &Cache{
		entries:     make(map[string]entry),
		lookup:      lookup,
		negativeTTL: negativeTTL,
		now:         time.Now,
	}
}

// Resolve returns the hardware address for addr, Unknown if the lookup
// failed, or External for addresses outside locally-routable ranges.
//
// Concurrent calls for the same uncached address share a single lookup.
func (c *Cache) Resolve(ctx context.Context, addr string) string {
	if !domain.IsLocallyRoutable(addr) {
		return External
	}

	if v, ok := c.cached(addr); ok {
		return v
	}

	v, _, _ := c.group.Do(addr, func() (interface{}, error) {
		// Another caller may have filled the entry before we got here
		if v, ok := c.cached(addr); ok {
			return v, nil
		}

		mac, err := c.lookup(ctx, addr)
		if err != nil && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded)) {
			// A lookup cut short says nothing about the address
			log.Printf("AddrCache: lookup for %s interrupted, not caching: %v", addr, err)
			return Unknown, nil
		}
		mac = strings.TrimSpace(mac)
		e := entry{mac: mac, ok: err == nil && mac != "", at: c.now()}
		if !e.ok {
			if err != nil {
				log.Printf("AddrCache: lookup for %s failed, caching negative entry: %v", addr, err)
			}
			e.mac = ""
		}

		c.mu.Lock()
		c.entries[addr] = e
		c.mu.Unlock()

		if e.ok {
			return e.mac, nil
		}
		return Unknown, nil
	})
	return v.(string)
}

// cached returns the answer for addr if a live entry exists
func (c *Cache) cached(addr string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[addr]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if e.ok {
		return e.mac, true
	}
	if c.negativeTTL > 0 && c.now().Sub(e.at) >= c.negativeTTL {
		return "", false
	}
	return Unknown, true
}

// Invalidate drops any entry for addr so the next Resolve looks it up again
func (c *Cache) Invalidate(addr string) {
	c.mu.Lock()
	delete(c.entries, addr)
	c.mu.Unlock()
}

// Len returns the number of cached entries, positive and negative
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
