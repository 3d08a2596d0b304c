package plfsio

import (
	"github.com/chuckcranor/deltafs/internal/pools"
)

// manifestMagic closes a manifest's terminal footer, the same role
// tableMagic plays for a table file.
const manifestMagic uint64 = 0x504c465344494d46

// ManifestEntry records where one partition's table landed within one
// epoch: its on-disk handles and the key range it covers, enough for a
// reader to decide which tables to open for a given epoch/key without
// opening every table file. FilterHandle locates the filter block inside
// the same partition file TableHandle points into, so a reader can probe
// membership without parsing the table's own footer first.
type ManifestEntry struct {
	Epoch        uint64
	Partition    int
	TableHandle  BlockHandle
	FilterHandle BlockHandle
	FirstKey     []byte
	LastKey      []byte
}

// ManifestWriter accumulates ManifestEntry records under one open,
// still-growing record per epoch and writes a terminal footer with the
// total bytes written when the directory finishes.
//
// Every sub-epoch flush a Dir performs feeds more entries into the
// current epoch's record via Append; nothing is written to the sink until
// either a later entry arrives for a new epoch or Finish is called, since
// the record's own entry count has to be known before its bytes can be
// framed. The wire format is varint throughout: it only needs to be read
// back sequentially by the same process family, never seeked into.
//
//	epoch_varint | entry_count_varint | record*
//	record = partition_varint | table_handle | filter_handle |
//	         first_key_len_varint | first_key | last_key_len_varint | last_key
type ManifestWriter struct {
	sink       byteSink
	bytesTotal uint64
	numEntries uint64
	finished   bool

	pendingEpoch   uint64
	pendingEntries []ManifestEntry
	hasPending     bool
}

// NewManifestWriter creates a writer over sink.
func NewManifestWriter(sink byteSink) *ManifestWriter {
	return &ManifestWriter{sink: sink}
}

// Append buffers one entry into its epoch's still-open record. Entries
// must arrive in non-decreasing epoch order, which every caller in this
// package already guarantees: a partition only ever compacts against the
// Dir's current epoch. REQUIRES: Finish has not been called.
func (m *ManifestWriter) Append(e ManifestEntry) error {
	if m.finished {
		return NewError("Append").Component("manifest").Code(AssertionFailed).
			Context("manifest already finished").Err()
	}

	if m.hasPending && e.Epoch != m.pendingEpoch {
		if err := m.flushPending(); err != nil {
			return err
		}
	}
	if !m.hasPending {
		m.pendingEpoch = e.Epoch
		m.hasPending = true
	}
	m.pendingEntries = append(m.pendingEntries, e)
	return nil
}

// flushPending writes the accumulated entries for pendingEpoch as one
// framed record and clears them.
func (m *ManifestWriter) flushPending() error {
	buf := pools.NewBufferBuilder(64 * (len(m.pendingEntries) + 1))
	buf.WriteVarint(m.pendingEpoch)
	buf.WriteVarint(uint64(len(m.pendingEntries)))
	for _, e := range m.pendingEntries {
		buf.WriteVarint(uint64(e.Partition))
		e.TableHandle.encodeTo(buf)
		e.FilterHandle.encodeTo(buf)
		buf.WriteVarint(uint64(len(e.FirstKey)))
		buf.Write(e.FirstKey)
		buf.WriteVarint(uint64(len(e.LastKey)))
		buf.Write(e.LastKey)
	}

	n := buf.Len()
	encoded := make([]byte, n)
	copy(encoded, buf.Bytes())
	buf.Release()

	if _, err := m.sink.Write(encoded); err != nil {
		return NewError("flushPending").Component("manifest").Code(IOError).Cause(err).Err()
	}
	m.bytesTotal += uint64(n)
	m.numEntries += uint64(len(m.pendingEntries))
	m.pendingEntries = nil
	m.hasPending = false
	return nil
}

// Finish flushes whatever epoch record is still open, then writes the
// terminal footer: total entries, total bytes written before the footer,
// and the manifest magic number.
func (m *ManifestWriter) Finish() error {
	if m.finished {
		return nil
	}
	if m.hasPending {
		if err := m.flushPending(); err != nil {
			return err
		}
	}
	m.finished = true

	buf := pools.NewBufferBuilder(24)
	buf.WriteUint64LE(m.numEntries)
	buf.WriteUint64LE(m.bytesTotal)
	buf.WriteUint64LE(manifestMagic)
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	buf.Release()

	if _, err := m.sink.Write(out); err != nil {
		return NewError("Finish").Component("manifest").Code(IOError).Cause(err).Err()
	}
	return nil
}

// ParseManifestFooter decodes a manifest's trailing 24-byte footer.
func ParseManifestFooter(footer []byte) (numEntries, bytesTotal uint64, err error) {
	if len(footer) != 24 {
		return 0, 0, NewError("ParseManifestFooter").Component("manifest").Code(Corruption).Err()
	}
	numEntries = le64(footer[0:8])
	bytesTotal = le64(footer[8:16])
	magic := le64(footer[16:24])
	if magic != manifestMagic {
		return 0, 0, NewError("ParseManifestFooter").Component("manifest").Code(Corruption).
			Context("bad magic").Err()
	}
	return numEntries, bytesTotal, nil
}

// ParseManifestRecord decodes one epoch's record starting at the front of
// b, returning every entry it contains and the number of bytes consumed.
func ParseManifestRecord(b []byte) (epoch uint64, entries []ManifestEntry, consumed int, err error) {
	pos := 0
	epoch, n := decodeVarint(b[pos:])
	pos += n
	count, n := decodeVarint(b[pos:])
	pos += n

	entries = make([]ManifestEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(b) {
			return 0, nil, 0, NewError("ParseManifestRecord").Component("manifest").Code(Corruption).Err()
		}
		partition, n := decodeVarint(b[pos:])
		pos += n
		tableHandle, n := decodeBlockHandle(b[pos:])
		pos += n
		filterHandle, n := decodeBlockHandle(b[pos:])
		pos += n
		firstLen, n := decodeVarint(b[pos:])
		pos += n
		if pos+int(firstLen) > len(b) {
			return 0, nil, 0, NewError("ParseManifestRecord").Component("manifest").Code(Corruption).Err()
		}
		firstKey := append([]byte(nil), b[pos:pos+int(firstLen)]...)
		pos += int(firstLen)
		lastLen, n := decodeVarint(b[pos:])
		pos += n
		if pos+int(lastLen) > len(b) {
			return 0, nil, 0, NewError("ParseManifestRecord").Component("manifest").Code(Corruption).Err()
		}
		lastKey := append([]byte(nil), b[pos:pos+int(lastLen)]...)
		pos += int(lastLen)

		entries = append(entries, ManifestEntry{
			Epoch:        epoch,
			Partition:    int(partition),
			TableHandle:  tableHandle,
			FilterHandle: filterHandle,
			FirstKey:     firstKey,
			LastKey:      lastKey,
		})
	}

	return epoch, entries, pos, nil
}
