package batch

import (
	"context"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/hanfei1991/minionbatch/client"
	"github.com/hanfei1991/minionbatch/pkg/clock"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

// Run executes job in batches and blocks until the run is torn down.
// Canceling ctx aborts the run. ev is closed when Run returns, unless
// the job or options are invalid.
func Run(
	ctx context.Context,
	job Job,
	opts Options,
	ev eventbus.Event,
	dispatcher client.Dispatcher,
	options ...CoordinatorOption,
) (Result, error) {
	return RunWithClock(ctx, clock.New(), job, opts, ev, dispatcher, options...)
}

// RunWithClock is Run with the timers driven by clk.
func RunWithClock(
	ctx context.Context,
	clk clock.Clock,
	job Job,
	opts Options,
	ev eventbus.Event,
	dispatcher client.Dispatcher,
	options ...CoordinatorOption,
) (Result, error) {
	loop := NewEventLoop(clk)
	c, err := NewCoordinator(job, opts, ev, dispatcher, loop, options...)
	if err != nil {
		return Result{}, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- loop.Run(loopCtx)
	}()

	c.Start()
	select {
	case <-c.Done():
	case <-ctx.Done():
		log.L().Info("batch run canceled", zap.String("batch-jid", c.BatchJID()))
		c.Close()
		<-c.Done()
	}

	loop.Stop()
	if err := <-loopErrCh; err != nil {
		log.L().Warn("batch event loop exited with error", zap.Error(err))
	}
	if err := loop.Wait(context.Background()); err != nil {
		log.L().Warn("wait for dispatch calls failed", zap.Error(err))
	}

	res := c.Result()
	return res, res.Err
}
