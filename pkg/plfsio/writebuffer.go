package plfsio

import (
	"sort"

	"github.com/chuckcranor/deltafs/internal/pools"
)

// WriteBuffer is one side of a partition's double buffer: an in-memory,
// insertion-ordered log of (key, value) records bounded by a byte budget.
// Add does no sorting or deduplication; FinishAndSort does all of that
// work once, when the buffer is handed off to the compactor.
type WriteBuffer struct {
	opts   *Options
	budget int64
	used   int64

	raw     []byte
	offsets []uint64 // pooled; each entry is an offset into raw
}

// NewWriteBuffer creates a buffer bounded by budget bytes, the per-
// partition share of Options.TotalMemtableBudget.
func NewWriteBuffer(opts *Options, budget int64) *WriteBuffer {
	return &WriteBuffer{
		opts:    opts,
		budget:  budget,
		offsets: pools.GetUint64s(256),
	}
}

func recordSize(key, value []byte) int {
	return varintLen(uint64(len(key))) + len(key) + varintLen(uint64(len(value))) + len(value)
}

func varintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// HasRoom reports whether key/value fits within the remaining budget.
func (w *WriteBuffer) HasRoom(key, value []byte) bool {
	return w.used+int64(recordSize(key, value)) <= w.budget
}

// Empty reports whether any record has been added.
func (w *WriteBuffer) Empty() bool {
	return len(w.offsets) == 0
}

// Add appends one record. Callers are expected to have checked HasRoom
// first; Add does not itself enforce the budget so a single oversized
// record is never silently dropped.
func (w *WriteBuffer) Add(key, value []byte) {
	off := uint64(len(w.raw))
	w.offsets = append(w.offsets, off)

	buf := pools.NewBufferBuilder(recordSize(key, value))
	buf.WriteVarint(uint64(len(key)))
	buf.Write(key)
	buf.WriteVarint(uint64(len(value)))
	buf.Write(value)
	w.raw = append(w.raw, buf.Bytes()...)
	buf.Release()

	w.used += int64(recordSize(key, value))
}

func (w *WriteBuffer) recordAt(off uint64) Entry {
	b := w.raw[off:]
	keyLen, n := decodeVarint(b)
	b = b[n:]
	key := b[:keyLen]
	b = b[keyLen:]
	valLen, n2 := decodeVarint(b)
	b = b[n2:]
	value := b[:valLen]
	return Entry{Key: key, Value: value}
}

// FinishAndSort drains the buffer into a slice of entries ready for the
// table builder. In unordered mode entries keep insertion order. In
// ordered mode entries are sorted by key; if Options.UniqueKeys is set,
// duplicate keys collapse to the last value added for that key, matching
// normal memtable overwrite semantics.
//
// The buffer must not be added to again until Reset; the caller owns the
// returned entries, which alias the buffer's backing array until then.
func (w *WriteBuffer) FinishAndSort() []Entry {
	entries := make([]Entry, len(w.offsets))
	for i, off := range w.offsets {
		entries[i] = w.recordAt(off)
	}

	pools.PutUint64s(w.offsets)
	w.offsets = nil

	if w.opts.Unordered {
		return entries
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})

	if !w.opts.UniqueKeys {
		return entries
	}

	deduped := entries[:0]
	for i := 0; i < len(entries); i++ {
		if i+1 < len(entries) && string(entries[i].Key) == string(entries[i+1].Key) {
			continue // a later duplicate wins; skip this one
		}
		deduped = append(deduped, entries[i])
	}
	return deduped
}

// Reset clears the buffer so it can be reused for the next epoch of
// writes after its contents have been compacted away. It is the Go
// analogue of the original Clear() backend hook.
func (w *WriteBuffer) Reset() {
	w.raw = w.raw[:0]
	w.used = 0
	if w.offsets == nil {
		w.offsets = pools.GetUint64s(256)
	} else {
		w.offsets = w.offsets[:0]
	}
}

// NumEntries returns the number of records added so far.
func (w *WriteBuffer) NumEntries() int { return len(w.offsets) }

// Used returns the number of bytes consumed of the buffer's budget.
func (w *WriteBuffer) Used() int64 { return w.used }
