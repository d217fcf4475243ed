package worker

import "math"

// disposedSet remembers recently disposed nodes in insertion order. Once it
// grows past softCap the oldest evictFraction of entries is forgotten.
type disposedSet struct {
	softCap       int
	evictFraction float64

	members map[int]struct{}
	order   []int

	evictions int
}

func newDisposedSet(softCap int, evictFraction float64) *disposedSet {
	return &disposedSet{
		softCap:       softCap,
		evictFraction: evictFraction,
		members:       make(map[int]struct{}, softCap),
		order:         make([]int, 0, softCap),
	}
}

func (s *disposedSet) has(nodeID int) bool {
	_, ok := s.members[nodeID]
	return ok
}

// add records nodeID. A node already present keeps its original age.
func (s *disposedSet) add(nodeID int) {
	if s.has(nodeID) {
		return
	}
	s.members[nodeID] = struct{}{}
	s.order = append(s.order, nodeID)

	if len(s.order) > s.softCap {
		s.evictOldest()
	}
}

func (s *disposedSet) len() int {
	return len(s.members)
}

func (s *disposedSet) evictOldest() {
	n := int(math.Ceil(float64(len(s.order)) * s.evictFraction))
	n = max(n, 1)

	for _, id := range s.order[:n] {
		delete(s.members, id)
	}
	s.evictions += n
	// Copy so the evicted prefix can be collected.
	s.order = append(make([]int, 0, s.softCap), s.order[n:]...)
}
