package membus

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/notifier"
)

// Bus is an in-process event bus. Every connection sees every
// message fired on the bus, filtered by its own subscriptions.
type Bus struct {
	notifier *notifier.Notifier[*eventbus.Message]
	closed   atomic.Bool
}

// New creates a Bus.
func New() *Bus {
	return &Bus{
		notifier: notifier.NewNotifier[*eventbus.Message](),
	}
}

// Connect opens a new connection to the bus.
func (b *Bus) Connect() eventbus.Event {
	c := &conn{
		bus:      b,
		recv:     b.notifier.NewReceiver(),
		patterns: make(map[string]struct{}),
		doneCh:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Flush blocks until every fired message has been handed to the
// connections.
func (b *Bus) Flush(ctx context.Context) error {
	return b.notifier.Flush(ctx)
}

// Close shuts the bus down. Connections still open stop receiving.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.notifier.Close()
}

type conn struct {
	bus  *Bus
	recv *notifier.Receiver[*eventbus.Message]

	mu       sync.RWMutex
	patterns map[string]struct{}
	handler  eventbus.Handler

	closed    atomic.Bool
	closeOnce sync.Once
	doneCh    chan struct{}
}

func (c *conn) run() {
	defer close(c.doneCh)
	// C must be drained until it is closed, otherwise the notifier stalls.
	for msg := range c.recv.C {
		if c.closed.Load() {
			continue
		}
		if h := c.match(msg.Tag); h != nil {
			h(msg)
		}
	}
}

func (c *conn) match(tag string) eventbus.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.handler == nil {
		return nil
	}
	for pattern := range c.patterns {
		if eventbus.MatchTag(pattern, tag) {
			return c.handler
		}
	}
	return nil
}

func (c *conn) Subscribe(pattern string) error {
	if err := eventbus.ValidatePattern(pattern); err != nil {
		return err
	}
	if c.closed.Load() {
		return derrors.ErrEventBusClosed.GenWithStackByArgs()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns[pattern] = struct{}{}
	return nil
}

func (c *conn) Unsubscribe(pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.patterns, pattern)
	return nil
}

func (c *conn) SetHandler(h eventbus.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *conn) RemoveHandler() {
	c.SetHandler(nil)
}

func (c *conn) FireEvent(ctx context.Context, tag string, data interface{}) error {
	if c.closed.Load() || c.bus.closed.Load() {
		return derrors.ErrEventBusClosed.GenWithStackByArgs()
	}
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	default:
	}
	raw, err := eventbus.Pack(data)
	if err != nil {
		return err
	}
	c.bus.notifier.Notify(&eventbus.Message{Tag: tag, Data: raw})
	log.L().Debug("event fired", zap.String("tag", tag))
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.recv.Close()
		<-c.doneCh
	})
	return nil
}
