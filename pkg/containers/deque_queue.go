package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// DequeQueue is an unbounded FIFO queue backed by a chunked deque.
type DequeQueue[T any] struct {
	mu    sync.Mutex
	elems deque.Deque

	// C receives a signal whenever the queue may be non-empty. A consumer
	// selects on C and then pops until Pop reports false.
	C chan struct{}
}

// NewDequeQueue creates an empty DequeQueue.
func NewDequeQueue[T any]() *DequeQueue[T] {
	return &DequeQueue[T]{
		elems: deque.NewDeque(),
		C:     make(chan struct{}, 1),
	}
}

// Add appends elem.
func (q *DequeQueue[T]) Add(elem T) {
	q.mu.Lock()
	q.elems.PushBack(elem)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the first element, or false if the queue is
// empty.
func (q *DequeQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.elems.Empty() {
		return zero, false
	}
	// comma-ok keeps nil interface elements from panicking
	elem, _ := q.elems.PopFront().(T)
	if !q.elems.Empty() {
		q.signal()
	}
	return elem, true
}

// Peek returns the first element without removing it.
func (q *DequeQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.elems.Empty() {
		return zero, false
	}
	elem, _ := q.elems.Front().(T)
	return elem, true
}

// Size returns the number of queued elements.
func (q *DequeQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.elems.Len()
}

func (q *DequeQueue[T]) signal() {
	select {
	case q.C <- struct{}{}:
	default:
	}
}
