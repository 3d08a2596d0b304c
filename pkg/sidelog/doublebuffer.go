package sidelog

import "sync"

// sideDoubleBuffer is the same producer/compactor handoff as the KV write
// path's DoubleBuffer (pkg/plfsio), specialized to a single degenerate
// partition of raw bytes instead of sorted key/value records. There is no
// generic core shared between the two because the original store's
// DoubleBuffering template is instantiated once per buffer kind, not
// shared at runtime; this mirrors that by re-deriving the same
// mutex+condvar protocol against byteBuffer.
type sideDoubleBuffer struct {
	mu sync.Mutex
	cv *sync.Cond

	membuf *byteBuffer
	bufs   []*byteBuffer

	numScheduled uint32
	numCompleted uint32
	numBGCompac  uint32
	finished     bool
	bgErr        error

	// inFlight is the byte length of every buffer that has been swapped
	// out for compaction but hasn't reached compact yet (or is still
	// inside it): bytes that are neither in membuf nor written yet. pending
	// needs this on top of membuf.Len() because doCompaction releases mu
	// around the blocking compact call, so a producer can call Append
	// again while a prior buffer's write is still outstanding.
	inFlight int64

	minDataBuffer int64

	compact     func(buf *byteBuffer) error
	schedule    func(job func())
	syncBackend func(close bool) error
}

func newSideDoubleBuffer(budget, minDataBuffer int64, compact func(*byteBuffer) error, schedule func(func()), syncBackend func(bool) error) *sideDoubleBuffer {
	d := &sideDoubleBuffer{
		membuf:        newByteBuffer(budget),
		bufs:          []*byteBuffer{newByteBuffer(budget)},
		minDataBuffer: minDataBuffer,
		compact:       compact,
		schedule:      schedule,
		syncBackend:   syncBackend,
	}
	d.cv = sync.NewCond(&d.mu)
	return d
}

// Append adds p to the current buffer, blocking if both buffers are full
// and a background compaction is needed to make room.
func (d *sideDoubleBuffer) Append(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}
	if _, err := d.prepare(false, p); err != nil {
		return err
	}
	d.membuf.Append(p)
	return nil
}

// Flush forces the current buffer to be scheduled for compaction, unless
// soft is true and the buffer hasn't reached minDataBuffer yet, in which
// case the write stays in memory a while longer. If wait is set, it
// blocks until that specific compaction completes.
func (d *sideDoubleBuffer) Flush(wait, soft bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}
	if soft && d.membuf.Len() < d.minDataBuffer {
		return nil
	}
	seq, err := d.prepare(true, nil)
	if err != nil {
		return err
	}
	if wait {
		d.waitFor(seq)
		return d.bgErr
	}
	return nil
}

func (d *sideDoubleBuffer) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var seq uint32
	var err error
	if d.finished {
		err = d.bgErr
	} else {
		seq, err = d.prepare(true, nil)
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

func (d *sideDoubleBuffer) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return d.bgErr
	}

	d.prepare(true, nil)
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

func (d *sideDoubleBuffer) prepare(force bool, p []byte) (uint32, error) {
	var seq uint32
	for {
		if d.bgErr != nil {
			return 0, d.bgErr
		}
		if !force && d.membuf.HasRoom(p) {
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

// tryScheduleCompaction schedules immbuf, already swapped out of membuf
// by the caller. mu is released around the schedule call so a schedule
// that runs the job inline does not deadlock against the job's own Lock.
func (d *sideDoubleBuffer) tryScheduleCompaction(immbuf *byteBuffer) uint32 {
	d.numScheduled++
	seq := d.numScheduled
	d.numBGCompac++
	d.inFlight += immbuf.Len()

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
// held again on return. mu is released around the compact call itself,
// the part that actually does blocking file I/O, so a writer appending to
// the fresh buffer is never stuck behind this buffer's write.
func (d *sideDoubleBuffer) doCompaction(immbuf *byteBuffer) {
	n := immbuf.Len()
	d.mu.Unlock()
	err := d.compact(immbuf)
	d.mu.Lock()

	d.numCompleted++
	if d.bgErr == nil {
		d.bgErr = err
	}
	d.inFlight -= n
	immbuf.Reset()
	d.bufs = append(d.bufs, immbuf)
	d.numBGCompac--

	d.prepare(false, nil)
	d.cv.Broadcast()
}

func (d *sideDoubleBuffer) waitFor(seq uint32) {
	if seq == 0 {
		return
	}
	for d.numCompleted < seq {
		d.cv.Wait()
	}
}

func (d *sideDoubleBuffer) waitForCompactions() {
	for d.numBGCompac > 0 {
		d.cv.Wait()
	}
}
