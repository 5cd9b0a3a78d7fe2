package etcdbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/mvcc/mvccpb"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

// Bus fans events out through an etcd key space. Every fired event
// is a key under the prefix, leased for EventTTL seconds, and every
// connection watches the whole prefix.
type Bus struct {
	cfg Config
	cli *clientv3.Client
}

// New dials etcd and returns a Bus.
func New(cfg Config) (*Bus, error) {
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		DialOptions: cfg.DialOptions,
	})
	if err != nil {
		return nil, derrors.WrapError(derrors.ErrEtcdConnectFail, err, cfg.Endpoints)
	}
	return &Bus{cfg: cfg, cli: cli}, nil
}

// Connect starts watching the event prefix and returns the connection.
// Events fired after Connect returns are never missed.
func (b *Bus) Connect(ctx context.Context) (eventbus.Event, error) {
	resp, err := b.cli.Get(ctx, b.cfg.Prefix+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return nil, derrors.WrapError(derrors.ErrEtcdOpFail, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		bus:      b,
		patterns: make(map[string]struct{}),
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	wch := b.cli.Watch(watchCtx, b.cfg.Prefix+"/",
		clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
	go c.run(wch)
	return c, nil
}

// Close closes the etcd client.
func (b *Bus) Close() error {
	return errors.Trace(b.cli.Close())
}

func (b *Bus) eventKey(tag string) string {
	return b.cfg.Prefix + "/" + tag + "/" + uuid.New().String()
}

type conn struct {
	bus *Bus

	mu       sync.RWMutex
	patterns map[string]struct{}
	handler  eventbus.Handler

	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	doneCh    chan struct{}
}

func (c *conn) run(wch clientv3.WatchChan) {
	defer close(c.doneCh)
	for resp := range wch {
		if err := resp.Err(); err != nil {
			log.L().Warn("etcd event watch failed", zap.Error(err))
			continue
		}
		for _, ev := range resp.Events {
			if ev.Type != mvccpb.PUT {
				continue
			}
			msg := &eventbus.Message{}
			if err := json.Unmarshal(ev.Kv.Value, msg); err != nil {
				log.L().Warn("drop malformed etcd event",
					zap.ByteString("key", ev.Kv.Key), zap.Error(err))
				continue
			}
			if h := c.match(msg.Tag); h != nil && !c.closed.Load() {
				h(msg)
			}
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
	if c.closed.Load() {
		return derrors.ErrEventBusClosed.GenWithStackByArgs()
	}
	raw, err := eventbus.Pack(data)
	if err != nil {
		return err
	}
	value, err := json.Marshal(&eventbus.Message{Tag: tag, Data: raw})
	if err != nil {
		return errors.Trace(err)
	}

	lease, err := c.bus.cli.Grant(ctx, c.bus.cfg.EventTTL)
	if err != nil {
		return derrors.WrapError(derrors.ErrEtcdOpFail, err)
	}
	_, err = c.bus.cli.Put(ctx, c.bus.eventKey(tag), string(value), clientv3.WithLease(lease.ID))
	if err != nil {
		return derrors.WrapError(derrors.ErrEtcdOpFail, err)
	}
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		<-c.doneCh
	})
	return nil
}
