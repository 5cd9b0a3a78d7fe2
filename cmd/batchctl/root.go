package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanfei1991/minionbatch/pkg/config"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/eventbus/etcdbus"
	"github.com/hanfei1991/minionbatch/pkg/eventbus/membus"
	"github.com/hanfei1991/minionbatch/pkg/jid"
	"github.com/hanfei1991/minionbatch/pkg/logutil"
	"github.com/hanfei1991/minionbatch/pkg/promutil"
)

// app is the state shared by the subcommands.
type app struct {
	flags config.Flags
	cfg   *config.Config

	outMu sync.Mutex
	out   io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "batchctl",
		Short:         "Run jobs on minions a window at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(&a.flags, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logutil.InitLogger(&cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			log.L().Debug("config loaded", zap.Stringer("config", cfg))
			return nil
		},
	}
	a.flags.Register(root.PersistentFlags())
	root.AddCommand(newRunCmd(a), newMinionsCmd(a), newWatchCmd(a))
	return root
}

// printJSON writes v as one line of JSON.
func (a *app) printJSON(v interface{}) error {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return errors.Trace(json.NewEncoder(a.out).Encode(v))
}

// printEvent writes a bus event as {"tag": ..., "data": ...}.
func (a *app) printEvent(msg *eventbus.Message) {
	if err := a.printJSON(msg); err != nil {
		log.L().Warn("print event failed", zap.String("tag", msg.Tag), zap.Error(err))
	}
}

// bus hides whether connections come from the in-process or the etcd
// bus.
type bus interface {
	connect(ctx context.Context) (eventbus.Event, error)
	// flush waits until fired events are delivered, where the bus can
	// tell.
	flush(ctx context.Context)
	// jidGenerator allocates the job ids of runs on this bus.
	jidGenerator() jid.Generator
	close()
}

type memoryBus struct {
	*membus.Bus
}

func (b memoryBus) connect(context.Context) (eventbus.Event, error) {
	return b.Connect(), nil
}

func (b memoryBus) flush(ctx context.Context) {
	if err := b.Flush(ctx); err != nil {
		log.L().Warn("flush memory bus failed", zap.Error(err))
	}
}

func (memoryBus) jidGenerator() jid.Generator {
	return jid.Default()
}

func (b memoryBus) close() {
	b.Close()
}

type etcdBus struct {
	*etcdbus.Bus
}

func (b etcdBus) connect(ctx context.Context) (eventbus.Event, error) {
	return b.Connect(ctx)
}

func (etcdBus) flush(context.Context) {}

func (b etcdBus) jidGenerator() jid.Generator {
	return b.NewEpochGenerator()
}

func (b etcdBus) close() {
	if err := b.Close(); err != nil {
		log.L().Warn("close etcd bus failed", zap.Error(err))
	}
}

func (a *app) openBus() (bus, error) {
	if a.cfg.Bus.Type == config.BusEtcd {
		b, err := etcdbus.New(*a.cfg.EtcdBusConfig())
		if err != nil {
			return nil, err
		}
		return etcdBus{Bus: b}, nil
	}
	return memoryBus{Bus: membus.New()}, nil
}

// serveMetrics serves /metrics until ctx is done. It is a no-op when no
// address is configured.
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return errors.Trace(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promutil.HTTPHandlerForMetric())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.L().Info("serving metrics", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}
