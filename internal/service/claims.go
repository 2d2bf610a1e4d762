package service

import "sync"

// claimSet tracks image ids with a crop in flight. It is safe for concurrent use.
type claimSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newClaimSet() *claimSet {
	return &claimSet{held: make(map[string]struct{})}
}

// acquire reports whether id was free and is now held by the caller.
func (c *claimSet) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[id]; ok {
		return false
	}
	c.held[id] = struct{}{}
	return true
}

func (c *claimSet) release(id string) {
	c.mu.Lock()
	delete(c.held, id)
	c.mu.Unlock()
}
