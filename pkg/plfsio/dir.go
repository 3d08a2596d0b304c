package plfsio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chuckcranor/deltafs/internal/logging"
	"github.com/chuckcranor/deltafs/internal/metrics"
	"github.com/chuckcranor/deltafs/internal/storage"
)

// Dir is a write-optimized, append-only, epoch-partitioned key/value
// directory: the top-level handle a checkpoint writer opens once and
// calls Add against from every rank and every thread for the life of the
// run. Internally it fans writes out across 2^LgParts independent
// partitions, each with its own double buffer and background compactor,
// and maintains one manifest recording where every compacted table ended
// up.
type Dir struct {
	opts    *Options
	baseDir string
	parts   []*partition
	pool    *WorkerPool

	manifestMu sync.Mutex
	manifest   *ManifestWriter
	mfile      *storage.FileWriter

	epochMu sync.Mutex
	epoch   uint64

	metrics *metrics.Registry
	logger  logging.Logger

	side sideFlusher

	finished bool
}

// sideFlusher is the subset of pkg/sidelog.SideLog's API an epoch flush
// needs. Dir depends on this interface rather than importing pkg/sidelog
// directly so the two packages stay free of a cyclic dependency.
type sideFlusher interface {
	Flush(wait, soft bool) error
	Finish() error
}

// AttachSideLog wires a Side I/O Log into this Dir's epoch boundary: every
// EndEpoch call also forces a hard flush of s, so the byte offset recorded
// alongside the epoch in the caller's manifest covers every byte appended
// before the boundary.
func (d *Dir) AttachSideLog(s sideFlusher) {
	d.side = s
}

// Open creates (or re-opens) a directory at baseDir under opts. Every
// partition's write buffer is sized TotalMemtableBudget / NumParts.
func Open(baseDir string, opts Options) (*Dir, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := storage.EnsureDir(baseDir); err != nil {
		return nil, NewError("Open").Component("dir").Context(baseDir).Code(IOError).Cause(err).Err()
	}

	mfile := storage.NewFileWriter(baseDir+"/MANIFEST", 0)
	if err := mfile.Open(); err != nil {
		return nil, NewError("Open").Component("dir").Context(baseDir).Code(IOError).Cause(err).Err()
	}

	// runID tags every log line this Dir emits so a checkpoint job's
	// aggregated logs can be split back out per-open even when several
	// ranks share one log stream or a directory gets reopened.
	runID := uuid.New().String()

	d := &Dir{
		opts:     &opts,
		baseDir:  baseDir,
		pool:     NewWorkerPool(8),
		manifest: NewManifestWriter(mfile),
		mfile:    mfile,
		metrics:  metrics.DefaultRegistry(),
		logger:   logging.DefaultLogger().With(logging.Component("plfsio"), logging.String("run_id", runID)),
	}

	numParts := opts.NumParts()
	budget := opts.TotalMemtableBudget / int64(numParts)
	if budget <= 0 {
		budget = opts.TotalMemtableBudget
	}

	for i := 0; i < numParts; i++ {
		partDir := fmt.Sprintf("%s/part-%04d", baseDir, i)
		p, err := newPartition(i, partDir, d.opts, budget, d, d.pool)
		if err != nil {
			return nil, err
		}
		d.parts = append(d.parts, p)
	}

	return d, nil
}

// Add inserts one (key, value) record stamped with epoch, routing it to
// its partition by hashing key. epoch must not be less than the
// directory's current epoch: a caller that has fallen behind a
// concurrently-advanced epoch counter gets InvalidArgument back instead
// of silently attributing its write to a sealed epoch. Add blocks if
// that partition's buffers are both full and a compaction is needed
// before there is room.
func (d *Dir) Add(key, value []byte, epoch uint64) error {
	if epoch < d.currentEpoch() {
		return NewError("Add").Component("dir").Code(InvalidArgument).
			Context(fmt.Sprintf("epoch %d < current epoch %d", epoch, d.currentEpoch())).Err()
	}

	idx := partitionOf(key, d.opts.LgParts)
	if err := d.parts[idx].db.Add(key, value); err != nil {
		d.metrics.SetPoisoned()
		return err
	}
	d.metrics.RecordWrite(int64(len(key) + len(value)))
	return nil
}

// Flush seals every partition's current write buffer into a table and
// appends the resulting entries to the manifest's still-open record for
// the current epoch, but does not advance the epoch counter: records
// added right after Flush returns are still attributed to the same epoch
// as records added before it. If wait is set, Flush blocks until every
// partition's compaction has completed; otherwise it only guarantees the
// compactions have been scheduled.
//
// This is the "flush" the source distinguishes from "epoch flush":
// repeated Flush calls within one epoch keep growing that epoch's
// manifest record rather than sealing a new one each time.
func (d *Dir) Flush(wait bool) error {
	var firstErr error
	for _, p := range d.parts {
		if err := p.db.Flush(wait); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EndEpoch seals epoch, asserting epoch == the directory's current
// epoch (a caller that names any other epoch does not know what it is
// currently writing into, and gets InvalidArgument back rather than
// silently sealing the wrong one). It flushes every partition's current
// write buffer, waits for the resulting compactions, drives a side-log
// flush, then advances the epoch counter. Every record added after
// EndEpoch returns is attributed to the new epoch.
func (d *Dir) EndEpoch(epoch uint64) error {
	if epoch != d.currentEpoch() {
		return NewError("EndEpoch").Component("dir").Code(InvalidArgument).
			Context(fmt.Sprintf("epoch %d != current epoch %d", epoch, d.currentEpoch())).Err()
	}

	firstErr := d.Flush(true)
	if firstErr == nil && d.side != nil {
		firstErr = d.side.Flush(true, false)
	}
	if firstErr != nil {
		return firstErr
	}

	d.epochMu.Lock()
	d.epoch++
	d.epochMu.Unlock()

	d.metrics.RecordEpochFlush()
	return nil
}

// Sync waits for outstanding compactions and fsyncs every partition's
// latest table plus the manifest. If flush is true it also forces a
// compaction of whatever is currently buffered, rather than waiting for
// the next natural flush.
func (d *Dir) Sync(flush bool) error {
	var firstErr error
	for _, p := range d.parts {
		if err := p.db.Sync(flush); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.mfile.Sync(); err != nil && firstErr == nil {
		firstErr = NewError("Sync").Component("dir").Code(IOError).Cause(err).Err()
	}
	return firstErr
}

// Wait blocks until no partition has an outstanding background
// compaction.
func (d *Dir) Wait() error {
	var firstErr error
	for _, p := range d.parts {
		if err := p.db.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Finish flushes and closes every partition, drains the worker pool, and
// writes the manifest's terminal footer. Finish is idempotent: calling it
// again does no more work and returns the AssertionFailed "already
// finished" sentinel.
func (d *Dir) Finish() error {
	if d.finished {
		return d.sticky()
	}

	var firstErr error
	for _, p := range d.parts {
		if err := p.db.Finish(); err != nil && !IsAssertionFailed(err) && firstErr == nil {
			firstErr = err
		}
	}

	d.pool.Drain()

	if d.side != nil {
		if err := d.side.Finish(); err != nil && !IsAssertionFailed(err) && firstErr == nil {
			firstErr = err
		}
	}

	d.manifestMu.Lock()
	manifestErr := d.manifest.Finish()
	closeErr := d.mfile.Close()
	d.manifestMu.Unlock()
	if firstErr == nil {
		firstErr = manifestErr
	}
	if firstErr == nil {
		firstErr = closeErr
	}

	d.finished = true
	return firstErr
}

func (d *Dir) sticky() error {
	return finishedErr
}

func (d *Dir) currentEpoch() uint64 {
	d.epochMu.Lock()
	defer d.epochMu.Unlock()
	return d.epoch
}

func (d *Dir) appendManifest(e ManifestEntry) error {
	d.manifestMu.Lock()
	defer d.manifestMu.Unlock()
	if err := d.manifest.Append(e); err != nil {
		return err
	}
	d.metrics.RecordIOBytes(int64(e.TableHandle.Size))
	return nil
}

func (d *Dir) recordCompaction(partitionID int, ok bool, dur time.Duration) {
	d.metrics.RecordCompaction(fmt.Sprintf("%d", partitionID), ok, dur)
	if !ok {
		d.metrics.SetPoisoned()
	}
}

func (d *Dir) recordTableWritten(data, filter, index int64) {
	d.metrics.RecordTableBytes(data, filter, index)
}

func (d *Dir) recordVictims(n int) {
	d.metrics.RecordVictims(n)
}

// IsAssertionFailed reports whether err carries the AssertionFailed code,
// the sticky sentinel a partition's double buffer re-arms to once it has
// already finished.
func IsAssertionFailed(err error) bool {
	return CodeOf(err) == AssertionFailed
}
