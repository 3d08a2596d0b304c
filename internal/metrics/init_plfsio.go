package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPlfsioMetrics() {
	r.IOTotalBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_io_total_bytes_written",
			Help: "Total bytes written to the underlying filesystem across tables, filters, and the manifest",
		},
	)

	r.SSTableDataBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_sstable_data_bytes",
			Help: "Bytes written to data blocks across all tables",
		},
	)

	r.SSTableFilterBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_sstable_filter_bytes",
			Help: "Bytes written to filter blocks across all tables",
		},
	)

	r.SSTableIndexBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_sstable_index_bytes",
			Help: "Bytes written to index blocks across all tables",
		},
	)

	r.TotalUserData = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_total_user_data_bytes",
			Help: "Total uncompressed key and value bytes accepted by Add, before block framing",
		},
	)

	r.NumKeys = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_num_keys",
			Help: "Total keys accepted by Add across every partition",
		},
	)

	r.NumVictims = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_num_victims",
			Help: "Cuckoo filter entries displaced into an auxiliary table during insertion",
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfsio_compactions_total",
			Help: "Completed compactions by partition and result",
		},
		[]string{"partition", "result"},
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plfsio_compaction_duration_seconds",
			Help:    "Compaction duration in seconds, from the start of a partition's compact call to its completion",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"partition"},
	)

	r.EpochFlushesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "plfsio_epoch_flushes_total",
			Help: "Completed EpochFlush calls across the directory",
		},
	)

	r.BGStatusPoisoned = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "plfsio_bg_status_poisoned",
			Help: "1 if any partition's background status has gone non-OK, 0 otherwise",
		},
	)
}
