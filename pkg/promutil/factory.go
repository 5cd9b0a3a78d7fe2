package promutil

import "github.com/prometheus/client_golang/prometheus"

// Routine to get a Factory:
// 1. The process keeps one Registry, exposed by HTTPHandlerForMetric.
// 2. Every batch run asks for NewFactory4Batch(batchJID); the returned Factory stamps
// the batch job id on every metric it creates.
// 3. When the run tears down it calls UnregisterBatch(batchJID), so a long lived
// process does not accumulate metrics of finished runs.
// Process-wide metrics come from NewFactory4Framework and are never unregistered.

// Factory creates prometheus metrics and registers them in one step,
// similar to promauto.
type Factory interface {
	// NewCounter works like the function of the same name in the prometheus
	// package, but it automatically registers the Counter with the Factory's
	// Registerer. Panic if it can't register successfully.
	NewCounter(opts prometheus.CounterOpts) prometheus.Counter

	// NewCounterVec works like the function of the same name in the
	// prometheus, package but it automatically registers the CounterVec with
	// the Factory's Registerer. Panic if it can't register successfully.
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec

	// NewGauge works like the function of the same name in the prometheus
	// package, but it automatically registers the Gauge with the Factory's
	// Registerer. Panic if it can't register successfully.
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge

	// NewHistogram works like the function of the same name in the prometheus
	// package but it automatically registers the Histogram with the Factory's
	// Registerer. Panic if it can't register successfully.
	NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram
}
