package promutil

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	systemID    = "system"
	frameworkID = "minionbatch-framework"

	metricPrefix = "minionbatch"
)

// constLabelBatchKey is used to recognize metrics of one batch run
const constLabelBatchKey = "batch_jid"

// HTTPHandlerForMetric return http.Handler for prometheus metric
func HTTPHandlerForMetric() http.Handler {
	return promhttp.HandlerFor(
		globalMetricGatherer,
		promhttp.HandlerOpts{},
	)
}

// NewFactory4Batch returns a Factory whose metrics carry the batch job id
// and are dropped by UnregisterBatch.
func NewFactory4Batch(batchJID string) Factory {
	return NewFactory4BatchWithRegistry(globalMetricRegistry, batchJID)
}

// NewFactory4BatchWithRegistry is NewFactory4Batch against a custom registry.
func NewFactory4BatchWithRegistry(r *Registry, batchJID string) Factory {
	return &wrappingFactory{
		r:      r,
		id:     batchJID,
		prefix: metricPrefix,
		constLabels: prometheus.Labels{
			constLabelBatchKey: batchJID,
		},
	}
}

// UnregisterBatch drops every metric created by NewFactory4Batch(batchJID).
func UnregisterBatch(batchJID string) {
	globalMetricRegistry.Unregister(batchJID)
}

// NewFactory4Framework returns a Factory for process level metrics.
func NewFactory4Framework() Factory {
	return &wrappingFactory{
		r:      globalMetricRegistry,
		id:     frameworkID,
		prefix: metricPrefix,
	}
}
