package metrics

import "time"

// RecordWrite accounts bytes flowing through Add before block framing.
func (r *Registry) RecordWrite(userBytes int64) {
	r.TotalUserData.Add(float64(userBytes))
	r.NumKeys.Inc()
}

// RecordTableBytes accounts the final byte layout of a finished table.
func (r *Registry) RecordTableBytes(dataBytes, filterBytes, indexBytes int64) {
	r.SSTableDataBytes.Add(float64(dataBytes))
	r.SSTableFilterBytes.Add(float64(filterBytes))
	r.SSTableIndexBytes.Add(float64(indexBytes))
	r.IOTotalBytesWritten.Add(float64(dataBytes + filterBytes + indexBytes))
}

// RecordIOBytes accounts bytes written outside a table, e.g. the side log
// or the manifest.
func (r *Registry) RecordIOBytes(n int64) {
	r.IOTotalBytesWritten.Add(float64(n))
}

// RecordVictims accounts cuckoo filter entries displaced into an
// auxiliary table.
func (r *Registry) RecordVictims(n int) {
	if n > 0 {
		r.NumVictims.Add(float64(n))
	}
}

// RecordCompaction records a completed compaction's outcome and duration.
func (r *Registry) RecordCompaction(partition string, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.CompactionsTotal.WithLabelValues(partition, result).Inc()
	r.CompactionDuration.WithLabelValues(partition).Observe(duration.Seconds())
}

// RecordEpochFlush records a completed EpochFlush call.
func (r *Registry) RecordEpochFlush() {
	r.EpochFlushesTotal.Inc()
}

// SetPoisoned flips the poisoned gauge once any partition's bg_status
// goes non-OK. It never clears: poisoning is sticky for the life of the Dir.
func (r *Registry) SetPoisoned() {
	r.BGStatusPoisoned.Set(1)
}
