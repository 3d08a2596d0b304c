package plfsio

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/chuckcranor/deltafs/internal/storage"
)

// partitionOf hashes key to one of 2^LgParts partitions using the high
// LgParts bits of an xxhash64 digest, the same hash family the bloom
// filter uses so a single hash primitive spans both concerns.
func partitionOf(key []byte, lgParts int) int {
	if lgParts == 0 {
		return 0
	}
	h := xxhash.Sum64(key)
	return int(h >> (64 - uint(lgParts)))
}

// partition owns one shard's double buffer and one file, table-<id>.tbl,
// that every compaction for the shard's lifetime appends its table into.
// Tables are concatenated back to back with no intervening padding; a
// table's position within the file is recorded as a byte offset, not
// implied by file naming, so partition.fileOffset is the only piece of
// state a manifest entry's TableHandle/FilterHandle depend on.
type partition struct {
	id      int
	dirPath string
	opts    *Options
	db      *DoubleBuffer

	tf *storage.FileWriter
	// fileOffset is the byte offset the next table will start at. Only
	// compact touches it, and the double buffer's single-worker-per-
	// partition invariant means at most one compaction runs at a time,
	// so no separate lock is needed for it.
	fileOffset uint64

	owner *Dir
}

func newPartition(id int, dirPath string, opts *Options, budget int64, owner *Dir, pool *WorkerPool) (*partition, error) {
	if err := storage.EnsureDir(dirPath); err != nil {
		return nil, NewError("newPartition").Component("partition").Context(dirPath).Code(IOError).Cause(err).Err()
	}
	tablePath := fmt.Sprintf("%s/table-%04d.tbl", dirPath, id)
	tf := storage.NewFileWriter(tablePath, 0)
	if err := tf.Open(); err != nil {
		return nil, NewError("newPartition").Component("partition").Context(tablePath).Code(IOError).Cause(err).Err()
	}
	p := &partition{id: id, dirPath: dirPath, opts: opts, owner: owner, tf: tf}
	p.db = NewDoubleBuffer(opts, budget, p.compact, pool.Submit, p.syncBackend)
	return p, nil
}

// compact drains one write buffer, appends its table to the partition's
// one file, and appends a manifest entry describing where it landed. An
// empty buffer produces no table and no manifest entry: flushing nothing
// at epoch boundaries is a no-op, not an empty table on disk.
func (p *partition) compact(buf *WriteBuffer) error {
	start := time.Now()
	entries := buf.FinishAndSort()
	if len(entries) == 0 {
		p.owner.recordCompaction(p.id, true, time.Since(start))
		return nil
	}

	firstKey, lastKey := entries[0].Key, entries[len(entries)-1].Key
	if p.opts.Unordered {
		firstKey, lastKey = minMaxKey(entries)
	}

	epoch := p.owner.currentEpoch()
	startOffset := p.fileOffset

	tb := NewTableBuilder(p.opts, p.tf, startOffset, len(entries))
	for _, e := range entries {
		tb.Add(e.Key, e.Value)
	}
	tableLen, err := tb.Finish()
	if err == nil {
		err = p.tf.Sync()
	}
	if err != nil {
		p.owner.recordCompaction(p.id, false, time.Since(start))
		return NewError("compact").Component("partition").Context(p.dirPath).Code(IOError).Cause(err).Err()
	}
	p.fileOffset += tableLen

	dataBytes, filterBytes, indexBytes := tb.Sizes()
	p.owner.recordTableWritten(dataBytes, filterBytes, indexBytes)
	if cf, ok := tb.filter.(cuckooTableFilter); ok {
		p.owner.recordVictims(cf.NumVictims())
	}

	err = p.owner.appendManifest(ManifestEntry{
		Epoch:        epoch,
		Partition:    p.id,
		TableHandle:  BlockHandle{Offset: startOffset, Size: tableLen},
		FilterHandle: tb.FilterHandle(),
		FirstKey:     firstKey,
		LastKey:      lastKey,
	})

	p.owner.recordCompaction(p.id, err == nil, time.Since(start))
	return err
}

func minMaxKey(entries []Entry) (min, max []byte) {
	min, max = entries[0].Key, entries[0].Key
	for _, e := range entries[1:] {
		if string(e.Key) < string(min) {
			min = e.Key
		}
		if string(e.Key) > string(max) {
			max = e.Key
		}
	}
	return min, max
}

// syncBackend fsyncs the partition's table file, and on close also closes
// it. The manifest file is owned and synced by Dir, not by any one
// partition.
func (p *partition) syncBackend(close bool) error {
	if close {
		return p.tf.Close()
	}
	return p.tf.Sync()
}
