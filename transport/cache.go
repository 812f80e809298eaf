// The session cache keeps at most one live transport per provider address.
// Inactive sessions are dropped on detection and rebuilt on next use.
package transport

import (
	"fmt"
	"sync"
	"time"
)

// Cache is a concurrency-safe address → session map. Dials are not
// serialized per address; when two goroutines race, the loser's session is
// closed as soon as the race is detected.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]*ClientTransport

	// HeartbeatInterval, when non-zero, starts a heartbeat loop on every
	// session the cache creates.
	HeartbeatInterval time.Duration
}

// NewCache returns an empty session cache.
func NewCache() *Cache {
	return &Cache{sessions: make(map[string]*ClientTransport)}
}

// Get returns the live session for addr, dialing a fresh one when the cache
// is empty or holds a dead session. A failed dial is retried at most once.
func (c *Cache) Get(addr string) (*ClientTransport, error) {
	c.mu.Lock()
	if t, ok := c.sessions[addr]; ok {
		if t.Active() {
			c.mu.Unlock()
			return t, nil
		}
		t.Close()
		delete(c.sessions, addr)
	}
	c.mu.Unlock()

	t, err := Dial(addr)
	if err != nil {
		t, err = Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if c.HeartbeatInterval > 0 {
		t.StartHeartbeat(c.HeartbeatInterval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[addr]; ok && existing.Active() {
		// Lost a dial race; the existing session wins.
		t.Close()
		return existing, nil
	}
	c.sessions[addr] = t
	return t, nil
}

// Evict drops the cached session for addr if it is the given one.
func (c *Cache) Evict(addr string, t *ClientTransport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.sessions[addr]; ok && cur == t {
		delete(c.sessions, addr)
	}
	t.Close()
}

// Close shuts down every cached session. Idempotent.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, t := range c.sessions {
		t.Close()
		delete(c.sessions, addr)
	}
}
