package promutil

import (
	"github.com/prometheus/client_golang/prometheus"
)

type wrappingFactory struct {
	r *Registry
	// id identifies the owner of every collector created by the factory.
	// It's used to unregister all of them at once.
	id string
	// prefix is added to the metric name to avoid conflicts
	// e.g. $prefix_$namespace_$subsystem_$name
	prefix string
	// constLabels is added to every metric created by the factory
	constLabels prometheus.Labels
}

// NewCounter works like the function of the same name in the prometheus
// package, but it automatically registers the Counter with the Factory's
// Registerer. Panic if it can't register successfully. Thread-safe.
func (f *wrappingFactory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.ConstLabels = wrapOpts(f.prefix, f.constLabels, opts.Namespace, opts.ConstLabels)
	c := prometheus.NewCounter(opts)
	f.r.MustRegister(f.id, c)
	return c
}

// NewCounterVec works like the function of the same name in the
// prometheus, package but it automatically registers the CounterVec with
// the Factory's Registerer. Panic if it can't register successfully. Thread-safe.
func (f *wrappingFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace, opts.ConstLabels = wrapOpts(f.prefix, f.constLabels, opts.Namespace, opts.ConstLabels)
	c := prometheus.NewCounterVec(opts, labelNames)
	f.r.MustRegister(f.id, c)
	return c
}

// NewGauge works like the function of the same name in the prometheus
// package, but it automatically registers the Gauge with the Factory's
// Registerer. Panic if it can't register successfully. Thread-safe.
func (f *wrappingFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.ConstLabels = wrapOpts(f.prefix, f.constLabels, opts.Namespace, opts.ConstLabels)
	c := prometheus.NewGauge(opts)
	f.r.MustRegister(f.id, c)
	return c
}

// NewHistogram works like the function of the same name in the prometheus
// package but it automatically registers the Histogram with the Factory's
// Registerer. Panic if it can't register successfully. Thread-safe.
func (f *wrappingFactory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.ConstLabels = wrapOpts(f.prefix, f.constLabels, opts.Namespace, opts.ConstLabels)
	c := prometheus.NewHistogram(opts)
	f.r.MustRegister(f.id, c)
	return c
}

func wrapOpts(
	prefix string,
	constLabels prometheus.Labels,
	namespace string,
	labels prometheus.Labels,
) (string, prometheus.Labels) {
	if prefix != "" {
		if namespace == "" {
			namespace = prefix
		} else {
			namespace = prefix + "_" + namespace
		}
	}

	if len(constLabels) == 0 {
		return namespace, labels
	}

	cls := make(prometheus.Labels, len(labels)+len(constLabels))
	for name, value := range labels {
		cls[name] = value
	}
	for name, value := range constLabels {
		if _, exists := cls[name]; exists {
			panic("duplicate label name")
		}
		cls[name] = value
	}
	return namespace, cls
}
