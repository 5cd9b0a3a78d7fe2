package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/minionbatch/client"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/jid"
	"github.com/hanfei1991/minionbatch/pkg/promutil"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

const (
	funTestPing = "test.ping"
	funFindJob  = "saltutil.find_job"
)

// Result is the outcome of a batch run.
type Result struct {
	BatchJID   string
	PingJID    string
	WindowSize int
	Waves      int

	Available []string
	Down      []string
	Done      []string
	TimedOut  []string

	// Aborted is set when the run was torn down before every available
	// minion was accounted for. Err tells why.
	Aborted bool
	Err     error
}

// probe is one in-flight find_job round.
type probe struct {
	minions nodeSet
	acked   nodeSet
}

// Coordinator runs one job on the available minions of its target,
// keeping at most a window of them busy at a time.
//
// Every method except Start, Close, Done and Result runs on the
// scheduler and is never called concurrently.
type Coordinator struct {
	job        Job
	opts       Options
	window     WindowSpec
	event      eventbus.Event
	dispatcher client.Dispatcher
	sched      Scheduler
	jidGen     jid.Generator
	registry   *promutil.Registry

	pingJID  string
	batchJID string
	router   *Router

	minions  nodeSet
	targeted nodeSet
	active   nodeSet
	done     nodeSet
	timedout nodeSet
	probes   map[string]*probe

	windowSize int
	waves      int

	initialized bool
	ended       bool
	scheduled   bool
	closed      bool

	timers  map[int]func()
	timerID int

	ctx    context.Context
	cancel context.CancelFunc

	metrics *runMetrics
	result  Result
	doneCh  chan struct{}
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithJIDGenerator sets the generator of the ping, batch and find_job
// job ids.
func WithJIDGenerator(gen jid.Generator) CoordinatorOption {
	return func(c *Coordinator) {
		c.jidGen = gen
	}
}

// WithMetricsRegistry registers the run metrics in r instead of the
// process registry.
func WithMetricsRegistry(r *promutil.Registry) CoordinatorOption {
	return func(c *Coordinator) {
		c.registry = r
	}
}

// NewCoordinator validates the job and options and prepares a run.
// Nothing is contacted before Start. The coordinator owns ev and
// closes it on teardown.
func NewCoordinator(
	job Job,
	opts Options,
	ev eventbus.Event,
	dispatcher client.Dispatcher,
	sched Scheduler,
	options ...CoordinatorOption,
) (*Coordinator, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	opts = opts.Adjust()
	window, err := ParseWindowSpec(opts.Batch)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		job:        job,
		opts:       opts,
		window:     window,
		event:      ev,
		dispatcher: dispatcher,
		sched:      sched,
		jidGen:     jid.Default(),
		router:     NewRouter(),
		minions:    newNodeSet(),
		targeted:   newNodeSet(),
		active:     newNodeSet(),
		done:       newNodeSet(),
		timedout:   newNodeSet(),
		probes:     make(map[string]*probe),
		timers:     make(map[int]func()),
		ctx:        ctx,
		cancel:     cancel,
		doneCh:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	c.pingJID = c.jidGen.NewJID()
	c.batchJID = c.jidGen.NewJID()
	if c.registry != nil {
		c.metrics = newRunMetrics(promutil.NewFactory4BatchWithRegistry(c.registry, c.batchJID))
	} else {
		c.metrics = newRunMetrics(promutil.NewFactory4Batch(c.batchJID))
	}
	c.result.BatchJID = c.batchJID
	c.result.PingJID = c.pingJID
	return c, nil
}

// BatchJID returns the job id shared by every wave of the run.
func (c *Coordinator) BatchJID() string {
	return c.batchJID
}

// Start begins presence discovery. It does not block.
func (c *Coordinator) Start() {
	c.sched.Spawn(c.start)
}

// Close tears the run down. A run closed before its done event was
// published reports itself as aborted. If the scheduler has already
// stopped, teardown runs on the caller's goroutine.
func (c *Coordinator) Close() {
	if !c.sched.Spawn(c.closeRun) {
		c.closeRun()
	}
}

func (c *Coordinator) closeRun() {
	if c.closed {
		return
	}
	if c.ended {
		// done is already published, only the flush delay is cut short
		c.closeSafe()
		return
	}
	c.abort(derrors.ErrBatchClosed.GenWithStackByArgs(c.batchJID))
}

// Done is closed once the run is torn down.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

// Result returns the outcome of the run. It is only valid once Done is
// closed.
func (c *Coordinator) Result() Result {
	<-c.doneCh
	return c.result
}

func (c *Coordinator) start() {
	if c.closed {
		return
	}
	log.L().Info("batch run starting",
		zap.String("batch-jid", c.batchJID),
		zap.String("ping-jid", c.pingJID),
		zap.String("target", c.job.Target.Expr),
		zap.String("fun", c.job.Fun),
		zap.String("batch", c.opts.Batch))

	if err := c.subscribe(ClassPresenceAck, c.pingJID); err != nil {
		c.abort(err)
		return
	}
	if err := c.subscribe(ClassJobReturn, c.batchJID); err != nil {
		c.abort(err)
		return
	}
	c.event.SetHandler(func(msg *eventbus.Message) {
		c.sched.Spawn(func() {
			c.handleMessage(msg)
		})
	})

	var ack *client.JobAck
	c.sched.Go(func() error {
		var err error
		ack, err = c.dispatcher.RunJob(c.ctx, &client.JobRequest{
			JID:              c.pingJID,
			Target:           c.job.Target,
			Fun:              funTestPing,
			Arg:              []interface{}{},
			GatherJobTimeout: c.opts.GatherJobTimeout,
			Metadata:         c.opts.Metadata,
		})
		return err
	}, func(err error) {
		if c.closed {
			return
		}
		if err != nil {
			log.L().Error("presence ping failed, aborting batch",
				zap.String("batch-jid", c.batchJID), zap.Error(err))
			c.abort(err)
			return
		}
		c.targeted = newNodeSet(ack.Minions...)
		log.L().Info("presence ping published",
			zap.String("batch-jid", c.batchJID),
			zap.Strings("targeted", c.targeted.sorted()))
		if c.minions.equal(c.targeted) {
			c.sched.Spawn(c.startBatch)
			return
		}
		// start batching even if not all minions respond to ping
		c.after(c.opts.PresencePingTimeout, c.startBatch)
	})
}

func (c *Coordinator) handleMessage(msg *eventbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.L().Error("panic while handling batch event",
				zap.String("batch-jid", c.batchJID),
				zap.String("tag", msg.Tag),
				zap.Any("panic", r))
		}
	}()
	if c.closed {
		return
	}

	routes := c.router.Match(msg.Tag)
	if len(routes) == 0 {
		return
	}
	ret := &client.JobReturn{}
	if err := eventbus.Unpack(msg, ret); err != nil {
		log.L().Warn("drop malformed batch event",
			zap.String("batch-jid", c.batchJID), zap.Error(err))
		return
	}
	if ret.ID == "" {
		_, id, ok := eventbus.ParseJobReturnTag(msg.Tag)
		if !ok {
			log.L().Warn("drop batch event without minion id",
				zap.String("batch-jid", c.batchJID), zap.String("tag", msg.Tag))
			return
		}
		ret.ID = id
	}

	for _, route := range routes {
		switch route.Class {
		case ClassPresenceAck:
			c.onPresenceAck(ret.ID)
		case ClassFindJobReturn:
			c.onFindJobReturn(route.JID, ret)
		case ClassJobReturn:
			c.onJobReturn(ret.ID)
		}
	}
}

func (c *Coordinator) onPresenceAck(id string) {
	if c.initialized {
		// the available set is frozen once the window phase starts
		log.L().Info("late presence ack dropped",
			zap.String("batch-jid", c.batchJID), zap.String("minion-id", id))
		return
	}
	c.minions.add(id)
	if len(c.targeted) > 0 && c.minions.equal(c.targeted) {
		c.sched.Spawn(c.startBatch)
	}
}

func (c *Coordinator) onFindJobReturn(probeJID string, ret *client.JobReturn) {
	p, ok := c.probes[probeJID]
	if !ok {
		return
	}
	if truthy(ret.Return) {
		p.acked.add(ret.ID)
	}
}

func (c *Coordinator) onJobReturn(id string) {
	if !c.active.has(id) {
		return
	}
	c.active.remove(id)
	c.done.add(id)
	c.metrics.minionsDone.Inc()
	c.metrics.activeMinions.Set(float64(len(c.active)))
	log.L().Debug("minion returned",
		zap.String("batch-jid", c.batchJID), zap.String("minion-id", id))
	c.sched.Spawn(c.scheduleNext)
}

func (c *Coordinator) startBatch() {
	if c.initialized || c.closed {
		return
	}
	c.initialized = true
	c.windowSize = c.window.Resolve(len(c.minions))
	c.result.WindowSize = c.windowSize
	c.metrics.windowSize.Set(float64(c.windowSize))

	down := c.targeted.minus(c.minions)
	log.L().Info("batch window resolved",
		zap.String("batch-jid", c.batchJID),
		zap.Int("window-size", c.windowSize),
		zap.Int("available", len(c.minions)),
		zap.Strings("down", down.sorted()))

	c.fireEvent(eventbus.BatchStartTag(c.batchJID), &StartEvent{
		AvailableMinions: c.minions.sorted(),
		DownMinions:      down.sorted(),
		Metadata:         c.opts.Metadata,
	})
	c.sched.Spawn(c.runNext)
}

func (c *Coordinator) getNext() nodeSet {
	toRun := c.minions.minus(c.done, c.active, c.timedout)
	size := c.windowSize - len(c.active)
	if len(toRun) < size {
		size = len(toRun)
	}
	return toRun.take(size)
}

func (c *Coordinator) scheduleNext() {
	if c.scheduled || c.closed {
		return
	}
	c.scheduled = true
	// call later so that close returns are admitted together
	c.after(c.opts.BatchDelay, c.runNext)
}

func (c *Coordinator) runNext() {
	c.scheduled = false
	if c.closed {
		return
	}
	next := c.getNext()
	if len(next) == 0 {
		c.endBatch()
		return
	}
	c.active.addAll(next)
	c.waves++
	c.result.Waves = c.waves
	c.metrics.waves.Inc()
	c.metrics.activeMinions.Set(float64(len(c.active)))

	wave, minions := c.waves, next.sorted()
	log.L().Info("admitting batch wave",
		zap.String("batch-jid", c.batchJID),
		zap.Int("wave", wave),
		zap.Strings("minions", minions))

	req := &client.JobRequest{
		JID:              c.batchJID,
		Target:           client.Target{Type: roster.TargetList, List: minions},
		Fun:              c.job.Fun,
		Arg:              c.job.Arg,
		GatherJobTimeout: c.opts.GatherJobTimeout,
		Metadata:         c.opts.Metadata,
		Ret:              c.opts.Ret,
		Raw:              c.opts.Raw,
	}
	c.sched.Go(func() error {
		_, err := c.dispatcher.RunJob(c.ctx, req)
		return err
	}, func(err error) {
		if c.closed {
			return
		}
		if err != nil {
			log.L().Error("error in scheduling next batch, aborting",
				zap.String("batch-jid", c.batchJID),
				zap.Int("wave", wave),
				zap.Strings("minions", minions),
				zap.Error(err))
			c.active.removeAll(next)
			c.abort(err)
			return
		}
		c.after(c.opts.Timeout, func() {
			c.findJob(next)
		})
	})
}

func (c *Coordinator) findJob(minions nodeSet) {
	if c.closed {
		return
	}
	notDone := minions.minus(c.done, c.timedout)
	if len(notDone) == 0 {
		return
	}

	probeJID := c.jidGen.NewJID()
	if err := c.subscribe(ClassFindJobReturn, probeJID); err != nil {
		c.abort(err)
		return
	}
	c.probes[probeJID] = &probe{minions: notDone, acked: newNodeSet()}
	c.metrics.findJobProbes.Inc()
	log.L().Debug("probing minions with find_job",
		zap.String("batch-jid", c.batchJID),
		zap.String("probe-jid", probeJID),
		zap.Strings("minions", notDone.sorted()))

	req := &client.JobRequest{
		JID:              probeJID,
		Target:           client.Target{Type: roster.TargetList, List: notDone.sorted()},
		Fun:              funFindJob,
		Arg:              []interface{}{c.batchJID},
		GatherJobTimeout: c.opts.GatherJobTimeout,
	}
	c.sched.Go(func() error {
		_, err := c.dispatcher.RunJob(c.ctx, req)
		return err
	}, func(err error) {
		if c.closed {
			return
		}
		if err != nil {
			log.L().Error("find_job probe failed, aborting batch",
				zap.String("batch-jid", c.batchJID),
				zap.String("probe-jid", probeJID),
				zap.Error(err))
			c.abort(err)
			return
		}
		c.after(c.opts.GatherJobTimeout, func() {
			c.checkFindJob(probeJID)
		})
	})
}

func (c *Coordinator) checkFindJob(probeJID string) {
	if c.closed {
		return
	}
	p, ok := c.probes[probeJID]
	if !ok {
		return
	}
	delete(c.probes, probeJID)
	c.unsubscribe(eventbus.JobReturnPattern(probeJID))

	timedOut := p.minions.minus(p.acked, c.done, c.timedout)
	c.timedout.addAll(timedOut)
	c.active.removeAll(timedOut)
	running := p.minions.minus(c.done, c.timedout)

	if len(timedOut) > 0 {
		c.metrics.minionsTimeout.Add(float64(len(timedOut)))
		c.metrics.activeMinions.Set(float64(len(c.active)))
		log.L().Warn("minions timed out",
			zap.String("batch-jid", c.batchJID),
			zap.Strings("minions", timedOut.sorted()))
		// backfill the freed slots right away
		c.sched.Spawn(c.runNext)
	}
	if len(running) > 0 {
		c.sched.Spawn(func() {
			c.findJob(running)
		})
	}
}

func (c *Coordinator) endBatch() {
	if c.ended || c.closed {
		return
	}
	accounted := c.done.union(c.timedout)
	if len(c.minions.minus(accounted)) > 0 || len(accounted.minus(c.minions)) > 0 {
		return
	}
	c.ended = true

	log.L().Info("batch run done",
		zap.String("batch-jid", c.batchJID),
		zap.Int("done", len(c.done)),
		zap.Int("timedout", len(c.timedout)))
	c.fireEvent(eventbus.BatchDoneTag(c.batchJID), &DoneEvent{
		AvailableMinions: c.minions.sorted(),
		DownMinions:      c.targeted.minus(c.minions).sorted(),
		DoneMinions:      c.done.sorted(),
		TimedoutMinions:  c.timedout.sorted(),
		Metadata:         c.opts.Metadata,
	})
	// give the done event time to reach the bus before closing it
	c.after(c.opts.EndFlushDelay, func() {
		c.closeSafe()
	})
}

func (c *Coordinator) abort(err error) {
	if c.closed {
		return
	}
	c.result.Aborted = true
	c.result.Err = derrors.WrapError(derrors.ErrBatchAborted, err, c.batchJID)
	log.L().Error("batch run aborted",
		zap.String("batch-jid", c.batchJID),
		zap.Int("waves", c.waves),
		zap.Strings("active", c.active.sorted()),
		zap.Error(err))
	c.closeSafe()
}

// closeSafe releases every resource of the run. It runs at most once.
func (c *Coordinator) closeSafe() {
	if c.closed {
		return
	}
	c.closed = true

	for _, pattern := range c.router.Patterns() {
		c.unsubscribe(pattern)
	}
	c.event.RemoveHandler()
	if err := c.event.Close(); err != nil {
		log.L().Warn("close batch event connection failed",
			zap.String("batch-jid", c.batchJID), zap.Error(err))
	}
	c.cancel()
	for id, cancel := range c.timers {
		cancel()
		delete(c.timers, id)
	}
	c.probes = make(map[string]*probe)

	if c.registry != nil {
		c.registry.Unregister(c.batchJID)
	} else {
		promutil.UnregisterBatch(c.batchJID)
	}
	outcome := outcomeDone
	if c.result.Aborted {
		outcome = outcomeAborted
	}
	runsTotal().WithLabelValues(outcome).Inc()

	c.result.Available = c.minions.sorted()
	c.result.Down = c.targeted.minus(c.minions).sorted()
	c.result.Done = c.done.sorted()
	c.result.TimedOut = c.timedout.sorted()
	log.L().Info("batch run closed",
		zap.String("batch-jid", c.batchJID),
		zap.Bool("aborted", c.result.Aborted))
	close(c.doneCh)
}

func (c *Coordinator) subscribe(class EventClass, jobID string) error {
	pattern := eventbus.JobReturnPattern(jobID)
	if err := c.event.Subscribe(pattern); err != nil {
		return err
	}
	c.router.Add(Route{Pattern: pattern, Class: class, JID: jobID})
	return nil
}

func (c *Coordinator) unsubscribe(pattern string) {
	if !c.router.Remove(pattern) {
		return
	}
	if err := c.event.Unsubscribe(pattern); err != nil {
		log.L().Warn("unsubscribe failed",
			zap.String("batch-jid", c.batchJID),
			zap.String("pattern", pattern),
			zap.Error(err))
	}
}

func (c *Coordinator) fireEvent(tag string, data interface{}) {
	if err := c.event.FireEvent(c.ctx, tag, data); err != nil {
		log.L().Warn("fire batch event failed",
			zap.String("batch-jid", c.batchJID),
			zap.String("tag", tag),
			zap.Error(err))
	}
}

// after runs fn on the loop after d unless the run is closed first.
func (c *Coordinator) after(d time.Duration, fn func()) {
	c.timerID++
	id := c.timerID
	c.timers[id] = c.sched.After(d, func() {
		delete(c.timers, id)
		if c.closed {
			return
		}
		fn()
	})
}

// truthy reports whether a find_job return says the job is running.
func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case map[string]interface{}:
		return len(x) > 0
	case []interface{}:
		return len(x) > 0
	default:
		return fmt.Sprint(x) != ""
	}
}
