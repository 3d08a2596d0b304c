package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter exposed by a PlfsDir instance, grounded on
// the Counters enumerated in spec.md section 6. Counters stay readable
// after the writer is poisoned; they just stop advancing.
type Registry struct {
	IOTotalBytesWritten prometheus.Counter
	SSTableDataBytes     prometheus.Counter
	SSTableFilterBytes   prometheus.Counter
	SSTableIndexBytes    prometheus.Counter
	TotalUserData        prometheus.Counter
	NumKeys              prometheus.Counter
	NumVictims           prometheus.Counter

	CompactionsTotal   *prometheus.CounterVec
	CompactionDuration *prometheus.HistogramVec
	EpochFlushesTotal  prometheus.Counter
	BGStatusPoisoned   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates an independent registry, useful for tests that open
// more than one Dir in the same process.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	r.initPlfsioMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry for
// exposition over an HTTP handler, if the caller wants one.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
