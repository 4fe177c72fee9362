package resolver

import (
	"sync"

	shadowpath "github.com/shadowfs/shadowfs/internal/path"
)

// negativeCache remembers "source does not have this path" to spare a
// repeat source call; advisory only, never consulted for correctness
// (spec §6 cache_negatives). A nil *negativeCache (cache_negatives
// disabled) behaves as an always-empty, no-op cache.
type negativeCache struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newNegativeCache() *negativeCache {
	return &negativeCache{paths: make(map[string]struct{})}
}

func (c *negativeCache) knows(p shadowpath.ShadowPath) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.paths[p.String()]
	return ok
}

func (c *negativeCache) remember(p shadowpath.ShadowPath) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[p.String()] = struct{}{}
}

func (c *negativeCache) forget(p shadowpath.ShadowPath) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, p.String())
}
