package batch

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/hanfei1991/minionbatch/pkg/clock"
	"github.com/hanfei1991/minionbatch/pkg/containers"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

// Scheduler runs callbacks one at a time on a single logical thread.
// Every coordinator state change happens inside a callback.
type Scheduler interface {
	// Spawn queues fn to run on the loop. It returns false if the
	// scheduler has stopped and fn will never run.
	Spawn(fn func()) bool
	// After queues fn once d has elapsed. cancel prevents a timer that
	// has not fired yet from queueing fn.
	After(d time.Duration, fn func()) (cancel func())
	// Go runs call off the loop and then queues then with its result.
	Go(call func() error, then func(err error))
}

// EventLoop is a Scheduler backed by one goroutine.
type EventLoop struct {
	clk   clock.Clock
	queue *containers.DequeQueue[func()]

	// mu orders Spawn against Stop.
	mu        sync.Mutex
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
	// calls tracks the goroutines started by Go.
	calls sync.WaitGroup
}

// NewEventLoop creates an EventLoop whose timers use clk.
func NewEventLoop(clk clock.Clock) *EventLoop {
	if clk == nil {
		clk = clock.New()
	}
	return &EventLoop{
		clk:     clk,
		queue:   containers.NewDequeQueue[func()](),
		closeCh: make(chan struct{}),
	}
}

// Spawn implements Scheduler. Callbacks spawned after Stop are dropped.
func (l *EventLoop) Spawn(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return false
	}
	l.queue.Add(fn)
	return true
}

// After implements Scheduler.
func (l *EventLoop) After(d time.Duration, fn func()) func() {
	timer := l.clk.AfterFunc(d, func() {
		l.Spawn(fn)
	})
	return func() {
		timer.Stop()
	}
}

// Go implements Scheduler.
func (l *EventLoop) Go(call func() error, then func(err error)) {
	if l.closed.Load() {
		return
	}
	l.calls.Add(1)
	go func() {
		defer l.calls.Done()
		err := call()
		l.Spawn(func() {
			then(err)
		})
	}()
}

// Run executes callbacks until ctx is done or Stop is called. It
// returns nil after Stop. A stopped loop cannot be run again.
func (l *EventLoop) Run(ctx context.Context) error {
	if l.closed.Load() {
		return derrors.ErrLoopClosed.GenWithStackByArgs()
	}
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-l.closeCh:
			return nil
		case <-l.queue.C:
		}
		for {
			fn, ok := l.queue.Pop()
			if !ok {
				break
			}
			fn()
			if l.closed.Load() {
				return nil
			}
		}
	}
}

// Stop stops the loop. Pending callbacks are dropped.
func (l *EventLoop) Stop() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		l.mu.Unlock()
		close(l.closeCh)
	})
}

// Wait blocks until every call started by Go has returned, or ctx is
// done. It must be called after Run has returned.
func (l *EventLoop) Wait(ctx context.Context) error {
	doneCh := make(chan struct{})
	go func() {
		l.calls.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-doneCh:
		return nil
	}
}
