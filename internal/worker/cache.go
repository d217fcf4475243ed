package worker

import "bytes"

// fifoCache is a bounded payload cache evicted in pure insertion order.
// Reads do not refresh an entry. Not safe for concurrent use: each load
// worker owns one and touches it only from its Run goroutine.
type fifoCache struct {
	bound   int
	entries map[int][]byte
	order   []int
}

// newFIFOCache creates a cache holding at most bound entries; bound <= 0
// disables caching.
func newFIFOCache(bound int) *fifoCache {
	if bound < 0 {
		bound = 0
	}
	return &fifoCache{
		bound:   bound,
		entries: make(map[int][]byte, bound),
		order:   make([]int, 0, bound),
	}
}

func (c *fifoCache) get(nodeID int) ([]byte, bool) {
	p, ok := c.entries[nodeID]
	if !ok {
		return nil, false
	}
	return bytes.Clone(p), true
}

// put stores a copy of payload and returns how many entries were evicted.
// Re-putting an existing key replaces the payload but keeps its position.
func (c *fifoCache) put(nodeID int, payload []byte) int {
	if c.bound == 0 {
		return 0
	}
	if _, ok := c.entries[nodeID]; ok {
		c.entries[nodeID] = bytes.Clone(payload)
		return 0
	}

	c.entries[nodeID] = bytes.Clone(payload)
	c.order = append(c.order, nodeID)

	evicted := 0
	for len(c.order) > c.bound {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		evicted++
	}
	return evicted
}

func (c *fifoCache) len() int {
	return len(c.entries)
}
