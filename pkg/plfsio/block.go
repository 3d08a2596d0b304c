package plfsio

import (
	"hash/crc32"

	"github.com/golang/snappy"

	"github.com/chuckcranor/deltafs/internal/pools"
)

// compressionByte values stored in a block's trailer. They don't have to
// match Options.Compression; a block that didn't shrink enough is stored
// uncompressed regardless of the configured codec.
const (
	compressionByteNone   byte = 0
	compressionByteSnappy byte = 1
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// BlockBuilder serializes a run of sorted (or, in unordered mode,
// insertion-order) KV pairs into one data or index block of approximately
// Options.BlockSize bytes.
//
// In variable-size mode every record is length-prefixed and a restart
// point is recorded every BlockRestartInterval keys so a reader can binary
// search the block without scanning every record. In fixed-size mode
// records are packed tightly with no length prefixes and no restart array,
// since every record has the same KeySize/ValueSize.
type BlockBuilder struct {
	opts *Options

	buf          *pools.BufferBuilder
	restarts     []uint32
	sinceRestart int
	numEntries   int
	finished     bool
}

// NewBlockBuilder creates a builder for one block under opts.
func NewBlockBuilder(opts *Options) *BlockBuilder {
	b := &BlockBuilder{
		opts: opts,
		buf:  pools.NewBufferBuilder(opts.BlockSize),
	}
	if !opts.FixedKV {
		b.restarts = append(b.restarts, 0)
	}
	return b
}

// Add appends one record. Callers in variable-size mode must add keys in
// non-decreasing order; callers in fixed-size mode may add in any order
// the caller has already decided on, since no restart index is built.
func (b *BlockBuilder) Add(key, value []byte) {
	if b.finished {
		panic("plfsio: Add called on a finished BlockBuilder")
	}

	if b.opts.FixedKV {
		b.buf.Write(key)
		b.buf.Write(value)
	} else {
		if b.sinceRestart >= b.opts.BlockRestartInterval {
			b.restarts = append(b.restarts, uint32(b.buf.Len()))
			b.sinceRestart = 0
		}
		b.buf.WriteVarint(uint64(len(key)))
		b.buf.Write(key)
		b.buf.WriteVarint(uint64(len(value)))
		b.buf.Write(value)
		b.sinceRestart++
	}
	b.numEntries++
}

// NumEntries returns the number of records added so far.
func (b *BlockBuilder) NumEntries() int {
	return b.numEntries
}

// Empty reports whether any record has been added.
func (b *BlockBuilder) Empty() bool {
	return b.numEntries == 0
}

// CurrentSizeEstimate returns the approximate encoded size so far,
// including the restart array a Finish would append. Used to decide when
// a block is full.
func (b *BlockBuilder) CurrentSizeEstimate() int {
	size := b.buf.Len()
	if !b.opts.FixedKV {
		size += len(b.restarts)*4 + 4
	}
	return size
}

// Finish seals the block: appends the restart array (variable mode only),
// compresses it per Options, appends the trailer, and then zero-pads to
// the next BlockSize multiple if BlockPadding is set. The returned slice is
// owned by the caller; the builder must not be reused.
func (b *BlockBuilder) Finish() []byte {
	if b.finished {
		panic("plfsio: Finish called twice on a BlockBuilder")
	}
	b.finished = true

	if !b.opts.FixedKV {
		for _, r := range b.restarts {
			b.buf.WriteUint32LE(r)
		}
		b.buf.WriteUint32LE(uint32(len(b.restarts)))
	}

	contents := b.buf.Bytes()
	compressed, compressionByte := maybeCompress(contents, b.opts.ForceCompression, b.opts.CompressionRatio, b.opts.Compression)

	out := make([]byte, 0, len(compressed)+5)
	out = append(out, compressed...)
	out = append(out, compressionByte)
	crc := crc32.Checksum(out, crc32cTable)

	trailer := make([]byte, 4)
	trailer[0] = byte(crc)
	trailer[1] = byte(crc >> 8)
	trailer[2] = byte(crc >> 16)
	trailer[3] = byte(crc >> 24)
	out = append(out, trailer...)

	if b.opts.BlockPadding {
		out = padToBlockSize(out, b.opts.BlockSize)
	}

	b.buf.Release()
	b.buf = nil
	return out
}

// maybeCompress applies snappy compression when force is set, or when the
// compressed form shrinks contents by at least ratio and codec permits
// compression at all. It returns the bytes to store and the compression
// byte that records what it did.
func maybeCompress(contents []byte, force bool, ratio float64, codec Compression) ([]byte, byte) {
	if codec != CompressionSnappy {
		return contents, compressionByteNone
	}

	compressed := snappy.Encode(nil, contents)
	if force {
		return compressed, compressionByteSnappy
	}

	shrinkage := 1.0 - float64(len(compressed))/float64(len(contents))
	if shrinkage >= ratio {
		return compressed, compressionByteSnappy
	}
	return contents, compressionByteNone
}

func padToBlockSize(block []byte, blockSize int) []byte {
	rem := len(block) % blockSize
	if rem == 0 {
		return block
	}
	pad := blockSize - rem
	return append(block, make([]byte, pad)...)
}

// DecodeBlock reverses Finish: it verifies the trailer's checksum (when
// verifyChecksums is set) and returns the decompressed block contents. In
// variable mode the contents still end with the restart array and its
// count (ParseVariableEntries strips them); the restarts result is always
// nil.
func DecodeBlock(block []byte, verifyChecksums bool) (contents []byte, restarts []uint32, err error) {
	if len(block) < 5 {
		return nil, nil, NewError("DecodeBlock").Component("block").Code(Corruption).Err()
	}

	// Trailing padding zero bytes are not distinguishable from real data
	// without an explicit framed length, so callers must pass exactly the
	// bytes for one block (no padding) to DecodeBlock.
	trailerStart := len(block) - 4
	compressionByte := block[trailerStart-1]
	storedCRC := uint32(block[trailerStart]) | uint32(block[trailerStart+1])<<8 |
		uint32(block[trailerStart+2])<<16 | uint32(block[trailerStart+3])<<24

	if verifyChecksums {
		computed := crc32.Checksum(block[:trailerStart], crc32cTable)
		if computed != storedCRC {
			return nil, nil, NewError("DecodeBlock").Component("block").Code(Corruption).
				Context("crc32c mismatch").Err()
		}
	}

	raw := block[:trailerStart-1]
	switch compressionByte {
	case compressionByteNone:
		contents = raw
	case compressionByteSnappy:
		contents, err = snappy.Decode(nil, raw)
		if err != nil {
			return nil, nil, NewError("DecodeBlock").Component("block").Code(Corruption).Cause(err).Err()
		}
	default:
		return nil, nil, NewError("DecodeBlock").Component("block").Code(Corruption).
			Context("unknown compression byte").Err()
	}

	return contents, restarts, nil
}

// Entry is one decoded (key, value) record.
type Entry struct {
	Key   []byte
	Value []byte
}

// ParseVariableEntries decodes the length-prefixed record stream produced
// by a variable-size BlockBuilder, stripping its trailing restart array.
func ParseVariableEntries(contents []byte) ([]Entry, error) {
	if len(contents) < 4 {
		return nil, NewError("ParseVariableEntries").Component("block").Code(Corruption).Err()
	}
	restartCount := le32(contents[len(contents)-4:])
	recordsEnd := len(contents) - 4 - int(restartCount)*4
	if recordsEnd < 0 || recordsEnd > len(contents) {
		return nil, NewError("ParseVariableEntries").Component("block").Code(Corruption).Err()
	}

	records := contents[:recordsEnd]
	var entries []Entry
	pos := 0
	for pos < len(records) {
		keyLen, n := decodeVarint(records[pos:])
		pos += n
		key := records[pos : pos+int(keyLen)]
		pos += int(keyLen)

		valLen, n := decodeVarint(records[pos:])
		pos += n
		val := records[pos : pos+int(valLen)]
		pos += int(valLen)

		entries = append(entries, Entry{Key: key, Value: val})
	}
	return entries, nil
}

// ParseFixedEntries splits a fixed-size BlockBuilder's tightly packed
// contents into (key, value) pairs of the declared sizes.
func ParseFixedEntries(contents []byte, keySize, valueSize int) ([]Entry, error) {
	stride := keySize + valueSize
	if stride == 0 || len(contents)%stride != 0 {
		return nil, NewError("ParseFixedEntries").Component("block").Code(Corruption).Err()
	}
	var entries []Entry
	for pos := 0; pos < len(contents); pos += stride {
		entries = append(entries, Entry{
			Key:   contents[pos : pos+keySize],
			Value: contents[pos+keySize : pos+stride],
		})
	}
	return entries, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeVarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		if c < 0x80 {
			v |= uint64(c) << shift
			return v, i + 1
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
	}
	return 0, 0
}
