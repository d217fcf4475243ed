package worker

import "container/heap"

// queue is a min-heap on priority. Equal priorities are served in submission
// order via a monotonically increasing sequence number.
type queue[T any] struct {
	h   entryHeap[T]
	seq uint64
}

type entry[T any] struct {
	priority float64
	seq      uint64
	value    T
}

func (q *queue[T]) push(priority float64, v T) {
	q.seq++
	heap.Push(&q.h, entry[T]{priority: priority, seq: q.seq, value: v})
}

func (q *queue[T]) pop() T {
	return heap.Pop(&q.h).(entry[T]).value
}

func (q *queue[T]) len() int {
	return len(q.h)
}

// entryHeap implements container/heap.
type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[T]) Push(x any)   { *h = append(*h, x.(entry[T])) }
func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry[T]{} // GC
	*h = old[:n-1]
	return e
}
