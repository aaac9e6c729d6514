// Package respcache implements the per-client ordered response cache used to
// replay responses to a client that retries requests after a reconnect.
package respcache

import (
	"sync"

	"github.com/datapath-io/datapath/wire"
)

// Cache records outbound responses keyed by request id so a retried request
// can be answered without re-invoking the backend.
//
// A Cache is internally locked: a reconnecting client is handed the same
// cache while the previous connection's dispatch loop may still be draining
// (parked in a backend call, or invalidating on its error path), so two
// dispatch goroutines can touch it during that overlap window.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*wire.Response
	invalid error
}

func New() *Cache {
	return &Cache{entries: make(map[uint64]*wire.Response)}
}

// Check returns the cached response for reqID, or nil if nothing is cached.
// Once the cache has been invalidated, Check returns the recorded fault for
// every id; the caller must propagate it and terminate the session.
func (c *Cache) Check(reqID uint64) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalid != nil {
		return nil, c.invalid
	}
	return c.entries[reqID], nil
}

// Update stores the response for reqID. First write wins: a duplicate update
// for an id that already has an entry is a no-op, so replays can never
// overwrite the response the client may already have seen.
func (c *Cache) Update(reqID uint64, resp *wire.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalid != nil {
		return
	}
	if _, ok := c.entries[reqID]; ok {
		return
	}
	c.entries[reqID] = resp
}

// Cleanup drops every entry with id <= ackID. Acknowledgments are cumulative:
// the client acks the highest response it has durably received. Unknown ids
// are a no-op.
func (c *Cache) Cleanup(ackID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if id <= ackID {
			delete(c.entries, id)
		}
	}
}

// Invalidate marks the cache permanently broken, recording err as the fault
// surfaced by all future Check calls. It reports whether the cache refused to
// record the fault because an earlier one is already recorded.
func (c *Cache) Invalidate(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalid != nil {
		return true
	}
	c.invalid = err
	c.entries = nil
	return false
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
