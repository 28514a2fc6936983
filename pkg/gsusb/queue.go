package gsusb

import "sync"

// fifo hands values from a producer that must never block to a consumer
// reading out, in push order. With limit 0 it grows without bound.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	limit  int
	signal chan struct{}
	out    chan T
}

func newFIFO[T any](limit int) *fifo[T] {
	q := &fifo[T]{
		limit:  limit,
		signal: make(chan struct{}, 1),
		out:    make(chan T),
	}
	go q.run()
	return q
}

// push queues v. It reports false when a limit is set and already reached.
func (q *fifo[T]) push(v T) bool {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pending is the number of values not yet handed to a reader.
func (q *fifo[T]) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v, true
}

// run lives as long as the owning Controller.
func (q *fifo[T]) run() {
	for range q.signal {
		for {
			v, ok := q.pop()
			if !ok {
				break
			}
			q.out <- v
		}
	}
}
