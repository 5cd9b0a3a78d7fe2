package notifier

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/hanfei1991/minionbatch/pkg/containers"
)

// Notifier fans events out from one producer to many receivers. Every
// receiver sees every event in Notify order.
type Notifier[T any] struct {
	mu        sync.RWMutex
	receivers map[int64]*Receiver[T]
	nextID    int64

	queue *containers.DequeQueue[T]

	closeCh   chan struct{}
	closeOnce sync.Once
	// barrierCh yields a value whenever run is between two deliveries,
	// and is closed once run has returned.
	barrierCh chan struct{}
}

// Receiver is one subscriber of a Notifier.
// The owner must keep reading C until it is closed, otherwise the
// Notifier blocks.
type Receiver[T any] struct {
	id int64
	C  chan T

	detached  atomic.Bool
	closeOnce sync.Once
	n         *Notifier[T]
}

// NewNotifier creates a Notifier and starts its delivery goroutine.
func NewNotifier[T any]() *Notifier[T] {
	n := &Notifier[T]{
		receivers: make(map[int64]*Receiver[T]),
		queue:     containers.NewDequeQueue[T](),
		closeCh:   make(chan struct{}),
		barrierCh: make(chan struct{}),
	}
	go n.run()
	return n
}

// NewReceiver attaches a new Receiver.
func (n *Notifier[T]) NewReceiver() *Receiver[T] {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	r := &Receiver[T]{
		id: n.nextID,
		C:  make(chan T, 16),
		n:  n,
	}
	n.receivers[r.id] = r
	return r
}

// Notify queues event for every receiver. It never blocks.
func (n *Notifier[T]) Notify(event T) {
	n.queue.Add(event)
}

// ReceiverCount returns the number of receivers not yet closed.
func (n *Notifier[T]) ReceiverCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.receivers)
}

// Flush waits until every event queued before the call has been handed
// to the receivers.
func (n *Notifier[T]) Flush(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case _, ok := <-n.barrierCh:
			if !ok {
				return nil
			}
		}
		if n.queue.Size() == 0 {
			return nil
		}
	}
}

// Close stops the delivery goroutine and closes every receiver.
// Pending events are dropped.
func (n *Notifier[T]) Close() {
	n.closeOnce.Do(func() {
		close(n.closeCh)
		n.waitStopped()

		n.mu.Lock()
		receivers := n.receivers
		n.receivers = make(map[int64]*Receiver[T])
		n.mu.Unlock()
		for _, r := range receivers {
			r.closeOnce.Do(func() {
				close(r.C)
			})
		}
	})
}

func (n *Notifier[T]) waitStopped() {
	for range n.barrierCh {
	}
}

// Close detaches the receiver. C is closed once the notifier can no
// longer send on it.
func (r *Receiver[T]) Close() {
	r.detached.Store(true)
	select {
	case <-r.n.barrierCh:
	case <-r.n.closeCh:
		r.n.waitStopped()
	}

	r.closeOnce.Do(func() {
		r.n.mu.Lock()
		delete(r.n.receivers, r.id)
		r.n.mu.Unlock()
		close(r.C)
	})
}

func (n *Notifier[T]) run() {
	defer close(n.barrierCh)
	for {
		select {
		case <-n.closeCh:
			return
		case n.barrierCh <- struct{}{}:
		case <-n.queue.C:
			for {
				event, ok := n.queue.Pop()
				if !ok {
					break
				}
				if !n.deliver(event) {
					return
				}
			}
		}
	}
}

// deliver sends event to every attached receiver. It returns false if
// the notifier was closed meanwhile.
func (n *Notifier[T]) deliver(event T) bool {
	n.mu.RLock()
	receivers := make([]*Receiver[T], 0, len(n.receivers))
	for _, r := range n.receivers {
		receivers = append(receivers, r)
	}
	n.mu.RUnlock()

	for _, r := range receivers {
		if r.detached.Load() {
			continue
		}
		select {
		case <-n.closeCh:
			return false
		case r.C <- event:
		}
	}
	return true
}
