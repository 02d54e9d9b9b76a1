package memory

import (
	"context"
	"path"
	"strings"
	"sync"
)

// Cache is a write-through fact cache over a Store. Facts are loaded on
// first read and kept until Invalidate; saves update both the store and
// the cached view.
type Cache struct {
	store Store

	mu     sync.Mutex
	loaded bool
	facts  map[string]string
}

// NewCache creates a Cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store, facts: make(map[string]string)}
}

// Facts returns all known facts, loading from the store on first call.
func (c *Cache) Facts(ctx context.Context) ([]Fact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fill(ctx); err != nil {
		return nil, err
	}
	out := make([]Fact, 0, len(c.facts))
	for k, v := range c.facts {
		out = append(out, Fact{Key: k, Value: v})
	}
	return out, nil
}

// SaveFacts persists facts and updates the cached view.
func (c *Cache) SaveFacts(ctx context.Context, facts ...Fact) error {
	if len(facts) == 0 {
		return nil
	}
	entries := make([]Entry, len(facts))
	for i, f := range facts {
		entries[i] = Entry{Key: FactKey(f.Key), Value: []byte(f.Value)}
	}
	if err := c.store.Save(ctx, entries...); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		for _, f := range facts {
			c.facts[f.Key] = f.Value
		}
	}
	return nil
}

// Invalidate drops the cached view; the next read reloads from the store.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.facts = make(map[string]string)
}

// fill loads the fact namespace. Caller holds the lock.
func (c *Cache) fill(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	keys, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	factKeys := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, NamespaceFacts+"/") {
			factKeys = append(factKeys, k)
		}
	}
	if len(factKeys) > 0 {
		entries, err := c.store.Load(ctx, factKeys...)
		if err != nil {
			return err
		}
		for _, e := range entries {
			c.facts[path.Base(e.Key)] = string(e.Value)
		}
	}
	c.loaded = true
	return nil
}
