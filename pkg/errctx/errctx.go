package errctx

import (
	"context"
	"sync"
)

// ErrCenter records the first non-nil error reported by any of a group
// of goroutines and cancels every context derived from it.
type ErrCenter struct {
	mu      sync.Mutex
	err     error
	doneCh  chan struct{}
	cancels []context.CancelFunc
}

// NewErrCenter creates an ErrCenter without any recorded error.
func NewErrCenter() *ErrCenter {
	return &ErrCenter{
		doneCh: make(chan struct{}),
	}
}

// OnError records err. Only the first non-nil error is kept.
func (c *ErrCenter) OnError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	cancels := c.cancels
	c.cancels = nil
	close(c.doneCh)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// CheckError returns the recorded error, if any.
func (c *ErrCenter) CheckError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once an error has been recorded.
func (c *ErrCenter) Done() <-chan struct{} {
	return c.doneCh
}

// DeriveContext returns a context that is canceled when either ctx is
// done or an error is recorded. Its Err returns the recorded error
// first.
func (c *ErrCenter) DeriveContext(ctx context.Context) context.Context {
	derived, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		cancel()
	} else {
		c.cancels = append(c.cancels, cancel)
		c.mu.Unlock()
	}
	return &errCtx{Context: derived, center: c}
}

type errCtx struct {
	context.Context
	center *ErrCenter
}

func (c *errCtx) Err() error {
	if err := c.center.CheckError(); err != nil {
		return err
	}
	return c.Context.Err()
}
