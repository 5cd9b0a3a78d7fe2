package client

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/jid"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

const defaultPublishRetryInterval = 500 * time.Millisecond

// LocalClient resolves targets against a roster and publishes jobs on
// the event bus.
type LocalClient struct {
	roster *roster.Roster
	event  eventbus.Event
	jidGen jid.Generator

	retryInterval time.Duration
}

// LocalClientOption customizes a LocalClient.
type LocalClientOption func(*LocalClient)

// WithRetryInterval sets how often a failed publish is retried.
func WithRetryInterval(d time.Duration) LocalClientOption {
	return func(c *LocalClient) {
		c.retryInterval = d
	}
}

// WithJIDGenerator sets the generator used for requests without a JID.
func WithJIDGenerator(gen jid.Generator) LocalClientOption {
	return func(c *LocalClient) {
		c.jidGen = gen
	}
}

// NewLocalClient creates a LocalClient publishing on ev.
func NewLocalClient(r *roster.Roster, ev eventbus.Event, opts ...LocalClientOption) *LocalClient {
	c := &LocalClient{
		roster:        r,
		event:         ev,
		jidGen:        jid.Default(),
		retryInterval: defaultPublishRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunJob implements Dispatcher.
func (c *LocalClient) RunJob(ctx context.Context, req *JobRequest) (*JobAck, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tgtType := req.Target.Type
	if tgtType == "" {
		tgtType = roster.TargetGlob
	}
	minions, err := c.roster.Targets(tgtType, req.Target.Expr, req.Target.List)
	if err != nil {
		return nil, err
	}

	jobID := req.JID
	if jobID == "" {
		jobID = c.jidGen.NewJID()
	}
	pub := &JobPublish{
		JID:              jobID,
		Fun:              req.Fun,
		Arg:              req.Arg,
		Tgt:              req.Target.Expr,
		TgtType:          string(tgtType),
		Minions:          minions,
		Ret:              req.Ret,
		Raw:              req.Raw,
		Metadata:         req.Metadata,
		GatherJobTimeout: req.GatherJobTimeout.Seconds(),
	}
	if pub.Arg == nil {
		pub.Arg = []interface{}{}
	}
	if err := c.publishWithRetry(ctx, pub); err != nil {
		return nil, derrors.WrapError(derrors.ErrDispatchFailed, err, jobID)
	}
	log.L().Debug("job published",
		zap.String("jid", jobID),
		zap.String("fun", req.Fun),
		zap.Strings("minions", minions))
	return &JobAck{JID: jobID, Minions: minions}, nil
}

func (c *LocalClient) publishWithRetry(ctx context.Context, pub *JobPublish) error {
	rl := rate.NewLimiter(rate.Every(c.retryInterval), 1)
	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		default:
		}

		err := c.event.FireEvent(ctx, eventbus.JobNewTag(pub.JID), pub)
		if err == nil {
			return nil
		}
		if derrors.ErrEventBusClosed.Equal(err) {
			return err
		}
		log.L().Warn("publish job encountered error, retrying",
			zap.String("jid", pub.JID), zap.Error(err))

		if rlErr := rl.Wait(ctx); rlErr != nil {
			// The rate limiter only returns error when
			// the context is timing out.
			return errors.Trace(err)
		}
	}
}
