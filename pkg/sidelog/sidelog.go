// Package sidelog implements the Side I/O Log: a single append-only
// byte stream that runs alongside the KV write path, coordinated with it
// only at epoch boundaries. It reuses the double-buffered producer/
// compactor handoff the KV path uses, with a degenerate partition count
// of one and no keys to sort.
package sidelog

import (
	"sync/atomic"

	"github.com/chuckcranor/deltafs/internal/storage"
)

// SideLog is the single append-only stream a Dir's caller writes opaque
// bytes into. Every write is assigned the byte offset it started at,
// which the caller records in the epoch manifest so a reader can
// recover exactly how far the log reached as of any sealed epoch.
type SideLog struct {
	db   *sideDoubleBuffer
	file *storage.FileWriter

	offset int64 // bytes compact has written to the log file so far
}

// Open creates (or appends to) the side log file at path. budget bounds
// each of the two in-flight buffers; minDataBuffer is the low watermark
// below which a soft Flush leaves small writes in memory rather than
// paying for a compaction. schedule hands a compaction job to a worker
// pool, or may run it inline (e.g. in tests).
func Open(path string, budget, minDataBuffer int64, schedule func(func())) (*SideLog, error) {
	fw := storage.NewFileWriter(path, 0)
	if err := fw.Open(); err != nil {
		return nil, newError("Open", IOError, path, err)
	}

	s := &SideLog{file: fw}
	s.db = newSideDoubleBuffer(budget, minDataBuffer, s.compact, schedule, s.syncBackend)
	return s, nil
}

// Append writes p to the log, returning the byte offset it was written
// at. It blocks if both buffers are full and a background flush is
// needed to make room, exactly like the KV path's Add.
func (s *SideLog) Append(p []byte) (int64, error) {
	off := atomic.LoadInt64(&s.offset) + s.pending()
	if err := s.db.Append(p); err != nil {
		return 0, err
	}
	return off, nil
}

// pending is the number of bytes already handed to Append but not yet
// written by compact, used only to compute the logical offset of the next
// write: the current buffer's contents plus whatever buffer(s) have been
// handed off to doCompaction but haven't been written by compact yet.
// doCompaction releases db.mu around that blocking I/O specifically so a
// producer can keep calling Append while it runs, so membuf.Len() alone
// would under-count by the size of any such in-flight buffer.
func (s *SideLog) pending() int64 {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.membuf.Len() + s.db.inFlight
}

// Flush forces the current buffer to be compacted into the log file.
// soft leaves small writes buffered until minDataBuffer is reached; epoch
// boundaries must pass soft=false so the manifest's recorded offset
// covers every byte appended before the boundary. Flush does not fsync;
// Sync and Finish do.
func (s *SideLog) Flush(wait, soft bool) error {
	return s.db.Flush(wait, soft)
}

// Sync waits for outstanding compactions and fsyncs the log file.
func (s *SideLog) Sync() error {
	return s.db.Sync()
}

// Offset reports the number of bytes compact has written to the log file
// so far. They are fsynced only by Sync and Finish.
func (s *SideLog) Offset() int64 {
	return atomic.LoadInt64(&s.offset)
}

// Finish flushes, fsyncs, and closes the log file. Idempotent.
func (s *SideLog) Finish() error {
	return s.db.Finish()
}

func (s *SideLog) compact(buf *byteBuffer) error {
	if buf.Empty() {
		return nil
	}
	p := buf.Bytes()
	if _, err := s.file.Write(p); err != nil {
		return newError("compact", IOError, "", err)
	}
	atomic.AddInt64(&s.offset, int64(len(p)))
	return nil
}

func (s *SideLog) syncBackend(close bool) error {
	if err := s.file.Sync(); err != nil {
		return newError("sync", IOError, "", err)
	}
	if close {
		if err := s.file.Close(); err != nil {
			return newError("close", IOError, "", err)
		}
	}
	return nil
}
