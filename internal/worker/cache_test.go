package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOCache_EvictsInInsertionOrder(t *testing.T) {
	c := newFIFOCache(2)

	assert.Equal(t, 0, c.put(1, []byte("a")))
	assert.Equal(t, 0, c.put(2, []byte("b")))

	// A read does not refresh node 1.
	_, ok := c.get(1)
	require.True(t, ok)

	assert.Equal(t, 1, c.put(3, []byte("c")))
	_, ok = c.get(1)
	assert.False(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestFIFOCache_ReputKeepsPosition(t *testing.T) {
	c := newFIFOCache(2)
	c.put(1, []byte("a"))
	c.put(2, []byte("b"))
	c.put(1, []byte("a2"))

	p, ok := c.get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("a2"), p)

	c.put(3, []byte("c"))
	_, ok = c.get(1)
	assert.False(t, ok, "node 1 is still the oldest entry")
}

func TestFIFOCache_Disabled(t *testing.T) {
	c := newFIFOCache(0)
	assert.Equal(t, 0, c.put(1, []byte("a")))
	_, ok := c.get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestFIFOCache_CopiesPayloads(t *testing.T) {
	c := newFIFOCache(1)
	in := []byte("abc")
	c.put(1, in)
	in[0] = 'x'

	out, _ := c.get(1)
	assert.Equal(t, []byte("abc"), out)
	out[0] = 'y'

	again, _ := c.get(1)
	assert.Equal(t, []byte("abc"), again)
}

func TestQueue_PriorityThenSubmissionOrder(t *testing.T) {
	var q queue[string]
	q.push(2, "late-2")
	q.push(1, "first-1")
	q.push(2, "later-2")
	q.push(-1, "neg")
	q.push(1, "second-1")

	var got []string
	for q.len() > 0 {
		got = append(got, q.pop())
	}
	assert.Equal(t, []string{"neg", "first-1", "second-1", "late-2", "later-2"}, got)
}

func TestDisposedSet_EvictsOldest(t *testing.T) {
	s := newDisposedSet(3, 0.5)
	s.add(1)
	s.add(2)
	s.add(1)
	s.add(3)
	assert.Equal(t, 3, s.len())

	// Re-adding node 1 kept its age; ceil(4*0.5) = 2 oldest entries go.
	s.add(4)
	assert.Equal(t, 2, s.len())
	assert.False(t, s.has(1))
	assert.False(t, s.has(2))
	assert.True(t, s.has(3))
	assert.True(t, s.has(4))
	assert.Equal(t, 2, s.evictions)
}
