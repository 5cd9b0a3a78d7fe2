package batch

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/minionbatch/client"
	clientmock "github.com/hanfei1991/minionbatch/client/mock"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/jid"
	"github.com/hanfei1991/minionbatch/pkg/promutil"
)

// manualScheduler runs everything on the test goroutine. Time only
// moves in advance.
type manualScheduler struct {
	now    time.Duration
	queue  []func()
	timers []*manualTimer
	seq    int
}

type manualTimer struct {
	at       time.Duration
	seq      int
	fn       func()
	canceled bool
}

func (s *manualScheduler) Spawn(fn func()) bool {
	s.queue = append(s.queue, fn)
	return true
}

func (s *manualScheduler) After(d time.Duration, fn func()) func() {
	s.seq++
	t := &manualTimer{at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		t.canceled = true
	}
}

func (s *manualScheduler) Go(call func() error, then func(err error)) {
	err := call()
	s.Spawn(func() {
		then(err)
	})
}

func (s *manualScheduler) drain() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func (s *manualScheduler) pendingTimers() int {
	n := 0
	for _, t := range s.timers {
		if !t.canceled {
			n++
		}
	}
	return n
}

func (s *manualScheduler) advance(d time.Duration) {
	target := s.now + d
	s.drain()
	for {
		sort.SliceStable(s.timers, func(i, j int) bool {
			if s.timers[i].at != s.timers[j].at {
				return s.timers[i].at < s.timers[j].at
			}
			return s.timers[i].seq < s.timers[j].seq
		})
		if len(s.timers) == 0 || s.timers[0].at > target {
			break
		}
		t := s.timers[0]
		s.timers = s.timers[1:]
		if t.canceled {
			continue
		}
		s.now = t.at
		t.fn()
		s.drain()
	}
	s.now = target
}

// fakeEvent is an in-memory eventbus.Event driven by the test.
type fakeEvent struct {
	subscribed    map[string]struct{}
	unsubscribed  []string
	handler       eventbus.Handler
	fired         []*eventbus.Message
	closeCalls    int
	removeHandler int
	subscribeErr  error
}

func newFakeEvent() *fakeEvent {
	return &fakeEvent{subscribed: make(map[string]struct{})}
}

func (e *fakeEvent) Subscribe(pattern string) error {
	if e.subscribeErr != nil {
		return e.subscribeErr
	}
	e.subscribed[pattern] = struct{}{}
	return nil
}

func (e *fakeEvent) Unsubscribe(pattern string) error {
	delete(e.subscribed, pattern)
	e.unsubscribed = append(e.unsubscribed, pattern)
	return nil
}

func (e *fakeEvent) SetHandler(h eventbus.Handler) {
	e.handler = h
}

func (e *fakeEvent) RemoveHandler() {
	e.handler = nil
	e.removeHandler++
}

func (e *fakeEvent) FireEvent(_ context.Context, tag string, data interface{}) error {
	raw, err := eventbus.Pack(data)
	if err != nil {
		return err
	}
	e.fired = append(e.fired, &eventbus.Message{Tag: tag, Data: raw})
	return nil
}

func (e *fakeEvent) Close() error {
	e.closeCalls++
	return nil
}

func (e *fakeEvent) deliver(msg *eventbus.Message) {
	if e.handler == nil {
		return
	}
	for pattern := range e.subscribed {
		if eventbus.MatchTag(pattern, msg.Tag) {
			e.handler(msg)
			return
		}
	}
}

func (e *fakeEvent) firedWith(tag string) []*eventbus.Message {
	var ret []*eventbus.Message
	for _, msg := range e.fired {
		if msg.Tag == tag {
			ret = append(ret, msg)
		}
	}
	return ret
}

func funIs(fun string) interface{} {
	return mock.MatchedBy(func(req *client.JobRequest) bool {
		return req.Fun == fun
	})
}

func seqGenerator(start int) jid.Generator {
	seq := start
	return jid.GeneratorFunc(func() string {
		seq++
		return fmt.Sprintf("%d", seq)
	})
}

type harness struct {
	t     *testing.T
	sched *manualScheduler
	ev    *fakeEvent
	disp  *clientmock.MockDispatcher
	c     *Coordinator
}

func testOptions(batch string) Options {
	return Options{
		Batch:               batch,
		BatchDelay:          time.Second,
		PresencePingTimeout: 3 * time.Second,
		GatherJobTimeout:    10 * time.Second,
		Timeout:             5 * time.Second,
		EndFlushDelay:       time.Second,
		Metadata:            map[string]interface{}{"owner": "ops"},
	}
}

// newHarness prepares a coordinator whose presence ping targets
// targeted. Batch and find_job dispatches succeed unless the test
// registers its own expectations first.
func newHarness(t *testing.T, opts Options, targeted []string, setup func(d *clientmock.MockDispatcher)) *harness {
	h := &harness{
		t:     t,
		sched: &manualScheduler{},
		ev:    newFakeEvent(),
		disp:  clientmock.NewMockDispatcher(),
	}
	h.disp.On("RunJob", mock.Anything, funIs(funTestPing)).
		Return(&client.JobAck{Minions: targeted}, nil)
	if setup != nil {
		setup(h.disp)
	}
	h.disp.On("RunJob", mock.Anything, funIs("cmd.run")).Return(&client.JobAck{}, nil)
	h.disp.On("RunJob", mock.Anything, funIs(funFindJob)).Return(&client.JobAck{}, nil)

	c, err := NewCoordinator(
		Job{Target: client.Target{Expr: "*"}, Fun: "cmd.run", Arg: []interface{}{"uptime"}},
		opts, h.ev, h.disp, h.sched,
		WithJIDGenerator(seqGenerator(1000)),
		WithMetricsRegistry(promutil.NewRegistry()),
	)
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) start() {
	h.c.Start()
	h.sched.drain()
	h.checkInvariants()
}

// attach routes bus messages to the coordinator without running the
// presence phase.
func (h *harness) attach() {
	h.c.event.SetHandler(func(msg *eventbus.Message) {
		h.sched.Spawn(func() {
			h.c.handleMessage(msg)
		})
	})
}

func (h *harness) send(jobID, id string, ret interface{}) {
	h.ev.deliver(&eventbus.Message{
		Tag:  eventbus.JobReturnTag(jobID, id),
		Data: mustPack(h.t, &client.JobReturn{ID: id, JID: jobID, Return: ret, Success: true}),
	})
	h.sched.drain()
	h.checkInvariants()
}

func (h *harness) ping(ids ...string) {
	for _, id := range ids {
		h.send(h.c.pingJID, id, true)
	}
}

func (h *harness) ret(ids ...string) {
	for _, id := range ids {
		h.send(h.c.batchJID, id, "ok")
	}
}

func (h *harness) advance(d time.Duration) {
	h.sched.advance(d)
	h.checkInvariants()
}

func (h *harness) isDone() bool {
	select {
	case <-h.c.Done():
		return true
	default:
		return false
	}
}

func (h *harness) batchRequests() []*client.JobRequest {
	return h.disp.RequestsFor("cmd.run")
}

func (h *harness) checkInvariants() {
	c := h.c
	for id := range c.done {
		require.False(h.t, c.active.has(id), "%s done and active", id)
		require.False(h.t, c.timedout.has(id), "%s done and timed out", id)
		require.True(h.t, c.minions.has(id), "%s done but not available", id)
	}
	for id := range c.active {
		require.False(h.t, c.timedout.has(id), "%s active and timed out", id)
		require.True(h.t, c.minions.has(id), "%s active but not available", id)
	}
	for id := range c.timedout {
		require.True(h.t, c.minions.has(id), "%s timed out but not available", id)
	}
	if c.initialized {
		require.LessOrEqual(h.t, len(c.active), c.windowSize)
	}
}

func mustPack(t *testing.T, data interface{}) []byte {
	raw, err := eventbus.Pack(data)
	require.NoError(t, err)
	return raw
}

func decodeDone(t *testing.T, msg *eventbus.Message) *DoneEvent {
	ev := &DoneEvent{}
	require.NoError(t, eventbus.Unpack(msg, ev))
	return ev
}

func decodeStart(t *testing.T, msg *eventbus.Message) *StartEvent {
	ev := &StartEvent{}
	require.NoError(t, eventbus.Unpack(msg, ev))
	return ev
}
