// Package identity maps opaque face tokens to student names. The cache only
// accelerates token resolution during scanning; the roster database remains
// the authority on who is enrolled.
package identity

import (
	"context"
	"sync"
)

// Store is the durable backend behind a Cache. Save rewrites the full
// mapping; Load returns an empty map when no durable copy exists yet.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, tokens map[string]string) error
}

// Cache holds the in-memory token→name mapping for one unit of work. It is
// reloaded at the start of every scan request and enrollment run so that
// enrollments from other processes become visible.
type Cache struct {
	store Store

	mu     sync.RWMutex
	tokens map[string]string
}

// NewCache creates an empty cache over the given backend.
func NewCache(store Store) *Cache {
	return &Cache{store: store, tokens: map[string]string{}}
}

// Load replaces the in-memory mapping with the durable copy.
func (c *Cache) Load(ctx context.Context) error {
	tokens, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if tokens == nil {
		tokens = map[string]string{}
	}
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
	return nil
}

// Resolve returns the name enrolled for a token. An unknown token is a
// valid outcome (the student may exist in the roster only); callers decide
// how to report it.
func (c *Cache) Resolve(token string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.tokens[token]
	return name, ok
}

// Register associates a token with a name in memory. Persist makes it
// durable.
func (c *Cache) Register(token, name string) {
	c.mu.Lock()
	c.tokens[token] = name
	c.mu.Unlock()
}

// Persist rewrites the full mapping in the durable backend.
func (c *Cache) Persist(ctx context.Context) error {
	c.mu.RLock()
	snapshot := make(map[string]string, len(c.tokens))
	for k, v := range c.tokens {
		snapshot[k] = v
	}
	c.mu.RUnlock()
	return c.store.Save(ctx, snapshot)
}

// Len reports how many tokens are currently loaded.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
