package batch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanfei1991/minionbatch/pkg/promutil"
)

const (
	outcomeDone    = "done"
	outcomeAborted = "aborted"
)

var (
	runsCounterOnce sync.Once
	runsCounter     *prometheus.CounterVec
)

func runsTotal() *prometheus.CounterVec {
	runsCounterOnce.Do(func() {
		runsCounter = promutil.NewFactory4Framework().NewCounterVec(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "runs_total",
			Help:      "Number of finished batch runs by outcome",
		}, []string{"outcome"})
	})
	return runsCounter
}

// runMetrics are the metrics of one batch run, labelled by its jid.
type runMetrics struct {
	waves          prometheus.Counter
	minionsDone    prometheus.Counter
	minionsTimeout prometheus.Counter
	findJobProbes  prometheus.Counter
	activeMinions  prometheus.Gauge
	windowSize     prometheus.Gauge
}

func newRunMetrics(f promutil.Factory) *runMetrics {
	return &runMetrics{
		waves: f.NewCounter(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "waves_total",
			Help:      "Number of admission waves dispatched",
		}),
		minionsDone: f.NewCounter(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "minions_done_total",
			Help:      "Number of minions that returned the batch job",
		}),
		minionsTimeout: f.NewCounter(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "minions_timedout_total",
			Help:      "Number of minions that stopped answering find_job",
		}),
		findJobProbes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "batch",
			Name:      "find_job_probes_total",
			Help:      "Number of find_job probes issued",
		}),
		activeMinions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "batch",
			Name:      "active_minions",
			Help:      "Number of minions occupying a window slot",
		}),
		windowSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "batch",
			Name:      "window_size",
			Help:      "Resolved window size",
		}),
	}
}
