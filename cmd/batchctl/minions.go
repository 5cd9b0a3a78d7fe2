package main

import (
	"context"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfei1991/minionbatch/minion"
	"github.com/hanfei1991/minionbatch/pkg/config"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

func newMinionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "minions",
		Short: "Serve the configured simulated minions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serveMinions(cmd.Context())
		},
	}
}

func (a *app) serveMinions(ctx context.Context) error {
	if a.cfg.Bus.Type == config.BusMemory {
		log.L().Warn("minions on the memory bus are only reachable from this process")
	}
	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.close()

	g, gCtx := errgroup.WithContext(ctx)
	conns, err := startMinions(gCtx, g, b, a.cfg.MinionConfigs())
	defer closeAll(conns)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return a.serveMetrics(gCtx)
	})
	log.L().Info("minions started", zap.Int("count", len(conns)))
	return g.Wait()
}

// startMinions runs one agent per config in g, each on its own
// connection. The connections are returned even on error so the
// caller can close them.
func startMinions(ctx context.Context, g *errgroup.Group, b bus, cfgs []minion.Config) ([]eventbus.Event, error) {
	conns := make([]eventbus.Event, 0, len(cfgs))
	for _, cfg := range cfgs {
		ev, err := b.connect(ctx)
		if err != nil {
			return conns, err
		}
		conns = append(conns, ev)
		agent, err := minion.NewAgent(cfg, ev, nil)
		if err != nil {
			return conns, err
		}
		g.Go(func() error {
			return agent.Run(ctx)
		})
	}
	return conns, nil
}

func closeAll(conns []eventbus.Event) {
	for _, ev := range conns {
		if err := ev.Close(); err != nil {
			log.L().Warn("close bus connection failed", zap.Error(err))
		}
	}
}
