package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanfei1991/minionbatch/batch"
	"github.com/hanfei1991/minionbatch/client"
	"github.com/hanfei1991/minionbatch/minion"
	"github.com/hanfei1991/minionbatch/pkg/config"
	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
	"github.com/hanfei1991/minionbatch/pkg/roster"
)

const announceTimeout = 5 * time.Second

type runOptions struct {
	tgtType string
	events  bool
}

// resultView is the printed form of batch.Result.
type resultView struct {
	BatchJID   string   `json:"batch_jid"`
	WindowSize int      `json:"window_size"`
	Waves      int      `json:"waves"`
	Available  []string `json:"available_minions"`
	Down       []string `json:"down_minions"`
	Done       []string `json:"done_minions"`
	TimedOut   []string `json:"timedout_minions"`
	Aborted    bool     `json:"aborted"`
	Error      string   `json:"error,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <target> <function> [args...]",
		Short: "Run a function on the targeted minions in batches",
		Long: `Run a function on the targeted minions, keeping at most a window of them
busy at a time. Lifecycle events and the final result are printed as JSON lines.

Examples:
  batchctl run -b 2 'web*' test.ping
  batchctl run -b 25% -t list web1,web2,db1 test.sleep 3`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd.Context(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.tgtType, "tgt-type", "t", string(roster.TargetGlob), "target type: glob, pcre, list or nodegroup")
	cmd.Flags().BoolVar(&opts.events, "events", true, "print batch lifecycle events")
	return cmd
}

// parseArgs reads every argument as JSON, falling back to the raw
// string.
func parseArgs(raw []string) []interface{} {
	args := make([]interface{}, 0, len(raw))
	for _, s := range raw {
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			v = s
		}
		args = append(args, v)
	}
	return args
}

func (a *app) runBatch(ctx context.Context, opts *runOptions, args []string) error {
	tp, err := roster.ParseTargetType(opts.tgtType)
	if err != nil {
		return err
	}
	job := batch.Job{
		Target: client.Target{Type: tp, Expr: args[0]},
		Fun:    args[1],
		Arg:    parseArgs(args[2:]),
	}
	if err := job.Validate(); err != nil {
		return err
	}

	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	var conns []eventbus.Event
	defer func() {
		cancel()
		if err := g.Wait(); err != nil {
			log.L().Warn("background task failed", zap.Error(err))
		}
		closeAll(conns)
	}()

	r := roster.New(a.cfg.Nodegroups)
	trackEv, err := b.connect(ctx)
	if err != nil {
		return err
	}
	conns = append(conns, trackEv)
	if err := r.Track(trackEv); err != nil {
		return err
	}

	minions := a.cfg.MinionConfigs()
	if a.cfg.Bus.Type == config.BusMemory {
		started, err := startMinions(gCtx, g, b, minions)
		conns = append(conns, started...)
		if err != nil {
			return err
		}
		// dead minions never announce themselves
		var live []string
		for _, m := range minions {
			if m.Mode == minion.ModeDead {
				r.Register(roster.Entry{ID: m.ID, Host: m.Host})
				continue
			}
			live = append(live, m.ID)
		}
		waitForMinions(ctx, r, live)
	} else {
		for _, m := range minions {
			r.Register(roster.Entry{ID: m.ID, Host: m.Host})
		}
	}
	g.Go(func() error {
		return a.serveMetrics(gCtx)
	})

	targets, err := r.Targets(job.Target.Type, job.Target.Expr, job.Target.List)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return derrors.ErrNoMinionsMatched.GenWithStackByArgs(job.Target.Expr)
	}

	// closed once the done event has been printed
	donePrinted := make(chan struct{})
	if opts.events {
		watchEv, err := b.connect(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, watchEv)
		var once sync.Once
		watchEv.SetHandler(func(msg *eventbus.Message) {
			a.printEvent(msg)
			if strings.HasSuffix(msg.Tag, "/done") {
				once.Do(func() { close(donePrinted) })
			}
		})
		if err := watchEv.Subscribe(eventbus.BatchPattern()); err != nil {
			return err
		}
	}
	pubEv, err := b.connect(ctx)
	if err != nil {
		return err
	}
	conns = append(conns, pubEv)
	runEv, err := b.connect(ctx)
	if err != nil {
		return err
	}

	gen := b.jidGenerator()
	cli := client.NewLocalClient(r, pubEv, client.WithJIDGenerator(gen))
	res, runErr := batch.Run(ctx, job, a.cfg.BatchOptions(), runEv, cli, batch.WithJIDGenerator(gen))
	b.flush(context.Background())
	if opts.events && !res.Aborted {
		select {
		case <-donePrinted:
		case <-time.After(time.Second):
			log.L().Warn("done event not received", zap.String("batch-jid", res.BatchJID))
		}
	}

	view := resultView{
		BatchJID:   res.BatchJID,
		WindowSize: res.WindowSize,
		Waves:      res.Waves,
		Available:  res.Available,
		Down:       res.Down,
		Done:       res.Done,
		TimedOut:   res.TimedOut,
		Aborted:    res.Aborted,
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	if err := a.printJSON(view); err != nil {
		return err
	}
	return runErr
}

// waitForMinions waits until every id in ids announced itself, or
// gives up after announceTimeout.
func waitForMinions(ctx context.Context, r *roster.Roster, ids []string) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(announceTimeout)
	for {
		missing := missingMinions(r, ids)
		if len(missing) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			log.L().Warn("minions did not announce themselves", zap.Strings("minions", missing))
			return
		case <-ticker.C:
		}
	}
}

func missingMinions(r *roster.Roster, ids []string) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := r.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
