package minion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edwingeng/deque"
	"github.com/gavv/monotime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfei1991/minionbatch/client"
	"github.com/hanfei1991/minionbatch/pkg/clock"
	"github.com/hanfei1991/minionbatch/pkg/errctx"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

// JobInfo describes a job a minion is running.
type JobInfo struct {
	JID  string        `json:"jid"`
	Fun  string        `json:"fun"`
	Arg  []interface{} `json:"arg"`
	Tgt  string        `json:"tgt"`
	PID  int64         `json:"pid"`
	User string        `json:"user"`
}

// Agent is a simulated minion. It runs the jobs published for its id
// and answers them on the event bus.
type Agent struct {
	cfg Config
	ev  eventbus.Event
	clk clock.Clock

	mu      sync.Mutex
	backlog deque.Deque // *client.JobPublish
	notifyC chan struct{}
	running map[string]*JobInfo

	nextPID  atomic.Int64
	executed atomic.Int64

	errCenter *errctx.ErrCenter
}

// NewAgent creates an agent answering on ev. The agent installs its
// own handler, so ev must not be shared.
func NewAgent(cfg Config, ev eventbus.Event, clk clock.Clock) (*Agent, error) {
	cfg.Adjust()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Agent{
		cfg:       cfg,
		ev:        ev,
		clk:       clk,
		backlog:   deque.NewDeque(),
		notifyC:   make(chan struct{}, 1),
		running:   make(map[string]*JobInfo),
		errCenter: errctx.NewErrCenter(),
	}, nil
}

// ID returns the minion id.
func (a *Agent) ID() string {
	return a.cfg.ID
}

// Executed returns how many jobs the agent has answered.
func (a *Agent) Executed() int64 {
	return a.executed.Load()
}

// Run serves jobs until ctx is canceled or the bus fails.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Mode == ModeDead {
		log.L().Info("minion is dead, ignoring all jobs", zap.String("minion-id", a.cfg.ID))
		<-ctx.Done()
		return nil
	}

	ctx = a.errCenter.DeriveContext(ctx)
	a.ev.SetHandler(a.onMessage)
	defer a.ev.RemoveHandler()
	if err := a.ev.Subscribe(eventbus.JobNewPattern()); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		_ = a.ev.Unsubscribe(eventbus.JobNewPattern())
	}()

	err := a.ev.FireEvent(ctx, eventbus.MinionStartTag(a.cfg.ID), &roster.Entry{
		ID:   a.cfg.ID,
		Host: a.cfg.Host,
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.L().Info("minion started",
		zap.String("minion-id", a.cfg.ID),
		zap.String("mode", string(a.cfg.Mode)))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-a.notifyC:
			}
			for {
				job, ok := a.popJob()
				if !ok {
					break
				}
				g.Go(func() error {
					a.execute(gCtx, job)
					return nil
				})
			}
		}
	})
	_ = g.Wait()

	if err := a.errCenter.CheckError(); err != nil {
		return err
	}
	return nil
}

func (a *Agent) onMessage(msg *eventbus.Message) {
	pub := &client.JobPublish{}
	if err := eventbus.Unpack(msg, pub); err != nil {
		log.L().Warn("drop malformed job", zap.String("minion-id", a.cfg.ID), zap.Error(err))
		return
	}
	if !a.targeted(pub) {
		return
	}
	if pub.Fun == funTestPing && a.cfg.Mode == ModeNoPing {
		return
	}

	a.mu.Lock()
	a.backlog.PushBack(pub)
	a.mu.Unlock()

	select {
	case a.notifyC <- struct{}{}:
	default:
	}
}

func (a *Agent) targeted(pub *client.JobPublish) bool {
	for _, id := range pub.Minions {
		if id == a.cfg.ID {
			return true
		}
	}
	return false
}

func (a *Agent) popJob() (*client.JobPublish, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backlog.Empty() {
		return nil, false
	}
	return a.backlog.PopFront().(*client.JobPublish), true
}

func (a *Agent) execute(ctx context.Context, pub *client.JobPublish) {
	if a.cfg.Mode == ModeHang && pub.Fun != funTestPing && pub.Fun != funFindJob {
		log.L().Debug("minion swallows job",
			zap.String("minion-id", a.cfg.ID), zap.String("jid", pub.JID))
		return
	}

	tracked := pub.Fun != funFindJob && pub.Fun != funSaltutilRunning
	if tracked {
		a.trackJob(pub)
		defer a.untrackJob(pub.JID)
	}

	start := monotime.Now()
	if a.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return
		case <-a.clk.After(a.cfg.Latency):
		}
	}

	ret := &client.JobReturn{
		ID:       a.cfg.ID,
		JID:      pub.JID,
		Fun:      pub.Fun,
		Metadata: pub.Metadata,
	}
	fn, ok := functions[pub.Fun]
	if !ok {
		ret.Return = derrors.ErrUnknownFunction.GenWithStackByArgs(pub.Fun).Error()
		ret.Retcode = retcodeUnknownFun
	} else {
		val, err := fn(ctx, a, pub.Arg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ret.Return = err.Error()
			ret.Retcode = retcodeFunctionFail
		} else {
			ret.Return = val
			ret.Success = true
		}
	}
	ret.Duration = float64(monotime.Since(start)) / float64(time.Millisecond)

	if err := a.ev.FireEvent(ctx, eventbus.JobReturnTag(pub.JID, a.cfg.ID), ret); err != nil {
		if derrors.ErrEventBusClosed.Equal(err) {
			a.errCenter.OnError(err)
			return
		}
		log.L().Warn("minion failed to return job",
			zap.String("minion-id", a.cfg.ID),
			zap.String("jid", pub.JID),
			zap.Error(err))
		return
	}
	a.executed.Inc()
}

func (a *Agent) trackJob(pub *client.JobPublish) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running[pub.JID] = &JobInfo{
		JID:  pub.JID,
		Fun:  pub.Fun,
		Arg:  pub.Arg,
		Tgt:  pub.Tgt,
		PID:  a.nextPID.Inc(),
		User: "root",
	}
}

func (a *Agent) untrackJob(jid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.running, jid)
}

func (a *Agent) runningJob(jid string) (JobInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.running[jid]
	if !ok {
		return JobInfo{}, false
	}
	return *info, true
}

func (a *Agent) runningJobs() []JobInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	ret := make([]JobInfo, 0, len(a.running))
	for _, info := range a.running {
		ret = append(ret, *info)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].PID < ret[j].PID })
	return ret
}
