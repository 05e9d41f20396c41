package poller

import "sync"

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 16

// Queue is a bounded FIFO of traces shared by the poller and a display.
// Put never blocks: when the queue is full the oldest trace is dropped.
type Queue struct {
	mu      sync.Mutex
	items   [][]int
	head    int
	n       int
	dropped int
}

// NewQueue creates a queue holding at most size traces.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{items: make([][]int, size)}
}

// Put appends a trace, dropping the oldest one when full. It reports
// whether a trace was dropped.
func (q *Queue) Put(trace []int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.n == len(q.items) {
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.n--
		q.dropped++
		dropped = true
	}
	q.items[(q.head+q.n)%len(q.items)] = trace
	q.n++
	return dropped
}

// TryGet removes and returns the oldest trace, or false when empty.
func (q *Queue) TryGet() ([]int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return nil, false
	}
	trace := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return trace, true
}

// Len returns the number of queued traces.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.items)
}

// Dropped returns how many traces were discarded by Put.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
