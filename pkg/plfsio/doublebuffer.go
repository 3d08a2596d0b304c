package plfsio

import "sync"

// DoubleBuffer is the producer/compactor handoff at the heart of one
// partition: writers Add into membuf while, at most, one prior buffer is
// off being compacted in the background. There are exactly two buffers in
// circulation; a writer that fills both must block until the background
// compaction drains one.
//
// All bookkeeping (numScheduled/numCompleted/numBGCompactions, the sticky
// bgErr, finished) mirrors the mutex+condvar protocol the underlying
// store used; it exists so Flush/Sync/Wait/Finish can report exactly when
// enough of the work they asked for has actually completed, without
// polling.
type DoubleBuffer struct {
	mu sync.Mutex
	cv *sync.Cond

	membuf *WriteBuffer
	bufs   []*WriteBuffer

	numScheduled uint32
	numCompleted uint32
	numBGCompac  uint32
	finished     bool
	bgErr        error

	compact     func(buf *WriteBuffer) error
	schedule    func(job func())
	syncBackend func(close bool) error
}

// NewDoubleBuffer creates a double buffer with two WriteBuffers, each
// bounded by budget bytes. compact performs one buffer's compaction
// (sort, build a table, write it out); schedule hands a compaction job to
// a worker pool (or may run it inline, e.g. in tests); syncBackend fsyncs
// whatever compact has written so far, closing the partition's files if
// close is true.
func NewDoubleBuffer(opts *Options, budget int64, compact func(*WriteBuffer) error, schedule func(func()), syncBackend func(bool) error) *DoubleBuffer {
	d := &DoubleBuffer{
		membuf:      NewWriteBuffer(opts, budget),
		bufs:        []*WriteBuffer{NewWriteBuffer(opts, budget)},
		compact:     compact,
		schedule:    schedule,
		syncBackend: syncBackend,
	}
	d.cv = sync.NewCond(&d.mu)
	return d
}

// Add inserts one record, blocking if both buffers are full and a
// background compaction is needed to make room.
func (d *DoubleBuffer) Add(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}
	if _, err := d.prepare(false, key, value); err != nil {
		return err
	}
	d.membuf.Add(key, value)
	return nil
}

// Flush forces the current buffer to be scheduled for compaction. If wait
// is set, it blocks until that specific compaction completes.
func (d *DoubleBuffer) Flush(wait bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}
	seq, err := d.prepare(true, nil, nil)
	if err != nil {
		return err
	}
	if wait {
		d.waitFor(seq)
		return d.bgErr
	}
	return nil
}

// Sync waits for every outstanding (and, if flush is set, the current)
// buffer to be compacted, then calls the backend's sync hook. It does not
// close the partition; Finish does.
func (d *DoubleBuffer) Sync(flush bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var seq uint32
	var err error
	if d.finished {
		err = d.bgErr
	} else {
		seq, err = d.prepare(flush, nil, nil)
	}
	if err != nil {
		return err
	}

	d.waitFor(seq)
	d.waitForCompactions()
	if d.bgErr == nil {
		d.bgErr = d.syncBackend(false)
	}
	return d.bgErr
}

// Wait blocks until there is no outstanding background compaction.
func (d *DoubleBuffer) Wait() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}
	d.waitForCompactions()
	return d.bgErr
}

// Finish flushes all remaining data, waits for every compaction to
// complete, syncs and closes the backend, then re-arms bgErr to a sticky
// "already finished" sentinel so any write attempted afterward fails
// instead of silently succeeding against a closed partition.
func (d *DoubleBuffer) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}

	d.prepare(true, nil, nil)
	d.waitForCompactions()

	var finishErr error
	if d.bgErr == nil {
		d.bgErr = d.syncBackend(true)
		finishErr = d.bgErr
		d.bgErr = finishedErr
	} else {
		finishErr = d.bgErr
	}

	d.finished = true
	return finishErr
}

// prepare makes room in membuf for (key, value), switching to the spare
// buffer and scheduling the full one for compaction as many times as
// needed. force skips the has-room check and switches unconditionally,
// which is how Flush/Sync/Finish force a buffer boundary even when there
// would still be room for more writes. It returns the compaction sequence
// number of the buffer it just scheduled, or 0 if it scheduled nothing.
func (d *DoubleBuffer) prepare(force bool, key, value []byte) (uint32, error) {
	var seq uint32
	for {
		if d.bgErr != nil {
			return 0, d.bgErr
		}
		if !force && d.membuf.HasRoom(key, value) {
			return seq, nil
		}
		if len(d.bufs) == 0 {
			d.cv.Wait()
			continue
		}
		force = false
		immbuf := d.membuf
		d.membuf = d.bufs[len(d.bufs)-1]
		d.bufs = d.bufs[:len(d.bufs)-1]
		seq = d.tryScheduleCompaction(immbuf)
	}
}

// tryScheduleCompaction schedules immbuf for compaction. The caller has
// already swapped immbuf out of membuf. An empty buffer compacts for
// free, so it runs inline rather than paying for a context switch;
// everything else goes through schedule, whose job reacquires mu before
// calling doCompaction. mu is released around the schedule call itself,
// so a schedule that runs the job inline, or blocks until a worker slot
// frees up, does not deadlock against the job's own Lock.
func (d *DoubleBuffer) tryScheduleCompaction(immbuf *WriteBuffer) uint32 {
	d.numScheduled++
	seq := d.numScheduled
	d.numBGCompac++

	if immbuf.Empty() {
		d.doCompaction(immbuf)
	} else {
		d.mu.Unlock()
		d.schedule(func() {
			d.mu.Lock()
			d.doCompaction(immbuf)
			d.mu.Unlock()
		})
		d.mu.Lock()
	}
	return seq
}

// doCompaction runs one compaction. Callers must hold mu on entry; it is
// held again on return. The actual compact call is the one part of this
// that blocks on file I/O, so mu is released around it and re-acquired
// before touching any shared state — otherwise this partition's producer
// could not Add into the fresh membuf until this compaction's fsync
// finished. bgErr is sticky: only the first compaction error is kept,
// matching the original store's "assert bg_status_.ok()" invariant that a
// second error never overwrites the first.
func (d *DoubleBuffer) doCompaction(immbuf *WriteBuffer) {
	d.mu.Unlock()
	err := d.compact(immbuf)
	d.mu.Lock()

	d.numCompleted++
	if d.bgErr == nil {
		d.bgErr = err
	}
	immbuf.Reset()
	d.bufs = append(d.bufs, immbuf)
	d.numBGCompac--

	// Just freed a buffer; see if another compaction can start right away.
	d.prepare(false, nil, nil)
	d.cv.Broadcast()
}

func (d *DoubleBuffer) waitFor(seq uint32) {
	if seq == 0 {
		return
	}
	for d.numCompleted < seq {
		d.cv.Wait()
	}
}

func (d *DoubleBuffer) waitForCompactions() {
	for d.numBGCompac > 0 {
		d.cv.Wait()
	}
}
