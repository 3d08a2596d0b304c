package plfsio

import (
	"github.com/chuckcranor/deltafs/internal/pools"
)

// tableMagic identifies a well-formed table footer. Chosen arbitrarily;
// readers only need it to distinguish a truncated file from a complete one.
const tableMagic uint64 = 0x504c465344495231

// tableFooterSize is the fixed on-disk size of a footer: two block
// handles (each up to two varints, padded to 20 bytes apiece) followed by
// the magic number and the table length, both 8-byte little-endian.
const tableFooterSize = 2*20 + 8 + 8

// BlockHandle locates one block within a table file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

func (h BlockHandle) encodeTo(buf *pools.BufferBuilder) {
	buf.WriteVarint(h.Offset)
	buf.WriteVarint(h.Size)
}

func decodeBlockHandle(b []byte) (BlockHandle, int) {
	off, n1 := decodeVarint(b)
	size, n2 := decodeVarint(b[n1:])
	return BlockHandle{Offset: off, Size: size}, n1 + n2
}

// tableFilter is the common surface BloomFilterBuilder and
// CuckooFilterBuilder present to the table builder. Both accumulate keys
// for one table and emit one self-describing block.
type tableFilter interface {
	Add(key []byte)
	Finish() []byte
	NumKeys() int
}

type cuckooTableFilter struct {
	*CuckooFilterBuilder
}

func (c cuckooTableFilter) Add(key []byte) { c.CuckooFilterBuilder.Add(key, 0) }

func newTableFilter(opts *Options, expectedKeys int) tableFilter {
	switch opts.Filter {
	case FilterBloom:
		return NewBloomFilterBuilder(opts.BFBitsPerKey)
	case FilterCuckoo:
		fingerprintBits := 16
		return cuckooTableFilter{NewCuckooFilterBuilder(expectedKeys, fingerprintBits, 0, opts.CuckooFrac)}
	default:
		return nil
	}
}

// TableBuilder assembles one on-disk table: a run of data blocks, one
// filter block covering every key in the table, a sparse index block
// mapping each data block's first key to its BlockHandle, and a fixed-size
// footer locating the filter and index blocks.
//
// A partition keeps one file open for its entire lifetime and concatenates
// every table it ever compacts into it with no intervening padding, so a
// TableBuilder is constructed with the byte offset its table starts at
// within that file (startOffset) rather than always starting at zero.
// Every BlockHandle it emits — data blocks, the filter block, the index
// block — is therefore an absolute offset into the partition's file, and a
// manifest entry's TableHandle/FilterHandle can be dereferenced without
// knowing anything else about how the file is laid out.
type byteSink interface {
	Write(p []byte) (int, error)
}

type TableBuilder struct {
	opts *Options
	sink byteSink

	startOffset uint64
	offset      uint64
	dataBlock   *BlockBuilder
	indexBlock  *BlockBuilder
	filter      tableFilter

	firstKey     []byte
	pendingIndex bool
	pendingEntry BlockHandle
	pendingKey   []byte

	numEntries   int
	dataBytes    int64
	filterLen    int64
	indexBytes   int64
	filterHandle BlockHandle

	err error
}

// NewTableBuilder creates a builder that writes through sink, starting at
// byte offset startOffset within whatever file sink represents. expectedKeys
// sizes the cuckoo filter, if one is configured; it is ignored otherwise.
func NewTableBuilder(opts *Options, sink byteSink, startOffset uint64, expectedKeys int) *TableBuilder {
	return &TableBuilder{
		opts:        opts,
		sink:        sink,
		startOffset: startOffset,
		offset:      startOffset,
		dataBlock:   NewBlockBuilder(opts),
		indexBlock:  NewBlockBuilder(indexBlockOptions(opts)),
		filter:      newTableFilter(opts, expectedKeys),
	}
}

// indexBlockOptions derives the options the index block is built with: it
// always uses IndexCompression instead of Compression, and it is never
// built in fixed-size mode since handles vary in encoded length.
func indexBlockOptions(opts *Options) *Options {
	idx := *opts
	idx.Compression = opts.IndexCompression
	idx.FixedKV = false
	idx.ForceCompression = opts.ForceCompression
	return &idx
}

// Add appends one (key, value) record. In ordered mode the caller must
// present keys in non-decreasing order; Add does not itself sort or dedup.
func (t *TableBuilder) Add(key, value []byte) {
	if t.err != nil {
		return
	}
	if t.pendingIndex {
		t.addIndexEntry(t.pendingKey, t.pendingEntry)
		t.pendingIndex = false
	}

	if t.dataBlock.Empty() {
		t.firstKey = append(t.firstKey[:0], key...)
	}
	if t.filter != nil {
		t.filter.Add(key)
	}
	t.dataBlock.Add(key, value)
	t.numEntries++

	if t.dataBlock.CurrentSizeEstimate() >= t.opts.BlockSize {
		t.flushDataBlock()
	}
}

func (t *TableBuilder) flushDataBlock() {
	if t.dataBlock.Empty() {
		return
	}
	block := t.dataBlock.Finish()
	handle := BlockHandle{Offset: t.offset, Size: uint64(len(block))}
	if err := t.write(block); err != nil {
		return
	}
	t.dataBytes += int64(len(block))

	t.pendingEntry = handle
	t.pendingKey = append(t.pendingKey[:0], t.firstKey...)
	t.pendingIndex = true

	t.dataBlock = NewBlockBuilder(t.opts)
}

func (t *TableBuilder) addIndexEntry(key []byte, handle BlockHandle) {
	buf := pools.NewBufferBuilder(20)
	handle.encodeTo(buf)
	encoded := make([]byte, buf.Len())
	copy(encoded, buf.Bytes())
	buf.Release()

	t.indexBlock.Add(key, encoded)
}

func (t *TableBuilder) write(p []byte) error {
	if t.err != nil {
		return t.err
	}
	_, err := t.sink.Write(p)
	if err != nil {
		t.err = NewError("TableBuilder.write").Component("table").Code(IOError).Cause(err).Err()
		return t.err
	}
	t.offset += uint64(len(p))
	return nil
}

// NumEntries returns the number of records added so far.
func (t *TableBuilder) NumEntries() int { return t.numEntries }

// Finish flushes any pending data block, writes the filter and index
// blocks, and writes the footer. It returns the table's on-disk length
// (including the footer) relative to startOffset — i.e. the number of
// bytes this call appended to sink, not the sink's absolute position.
func (t *TableBuilder) Finish() (uint64, error) {
	if t.err != nil {
		return 0, t.err
	}
	t.flushDataBlock()
	if t.pendingIndex {
		t.addIndexEntry(t.pendingKey, t.pendingEntry)
		t.pendingIndex = false
	}

	var filterHandle BlockHandle
	if t.filter != nil {
		filterBlock := t.filter.Finish()
		filterHandle = BlockHandle{Offset: t.offset, Size: uint64(len(filterBlock))}
		if err := t.write(filterBlock); err != nil {
			return 0, err
		}
		t.filterLen = int64(len(filterBlock))
	}
	t.filterHandle = filterHandle

	indexBlock := t.indexBlock.Finish()
	indexHandle := BlockHandle{Offset: t.offset, Size: uint64(len(indexBlock))}
	if err := t.write(indexBlock); err != nil {
		return 0, err
	}
	t.indexBytes = int64(len(indexBlock))

	tableLen := t.offset - t.startOffset + tableFooterSize
	footer := t.buildFooter(filterHandle, indexHandle, tableLen)
	if err := t.write(footer); err != nil {
		return 0, err
	}

	return tableLen, nil
}

func (t *TableBuilder) buildFooter(filterHandle, indexHandle BlockHandle, tableLen uint64) []byte {
	buf := pools.NewBufferBuilder(tableFooterSize)
	defer buf.Release()

	start := buf.Len()
	filterHandle.encodeTo(buf)
	for buf.Len()-start < 20 {
		buf.WriteByte(0)
	}

	start = buf.Len()
	indexHandle.encodeTo(buf)
	for buf.Len()-start < 20 {
		buf.WriteByte(0)
	}

	buf.WriteUint64LE(tableMagic)
	buf.WriteUint64LE(tableLen)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// Sizes reports the bytes written to each table section, for the
// SSTableDataBytes/SSTableFilterBytes/SSTableIndexBytes counters.
func (t *TableBuilder) Sizes() (data, filter, index int64) {
	return t.dataBytes, t.filterLen, t.indexBytes
}

// FilterHandle locates the filter block this table wrote, as an absolute
// offset within the partition's file. Valid only after Finish returns.
func (t *TableBuilder) FilterHandle() BlockHandle {
	return t.filterHandle
}

// ParseFooter decodes the trailing tableFooterSize bytes of a table file.
func ParseFooter(footer []byte) (filterHandle, indexHandle BlockHandle, tableLen uint64, err error) {
	if len(footer) != tableFooterSize {
		return BlockHandle{}, BlockHandle{}, 0, NewError("ParseFooter").Component("table").Code(Corruption).Err()
	}
	filterHandle, _ = decodeBlockHandle(footer[0:20])
	indexHandle, _ = decodeBlockHandle(footer[20:40])
	magic := le64(footer[40:48])
	tableLen = le64(footer[48:56])
	if magic != tableMagic {
		return BlockHandle{}, BlockHandle{}, 0, NewError("ParseFooter").Component("table").Code(Corruption).
			Context("bad magic").Err()
	}
	return filterHandle, indexHandle, tableLen, nil
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
