package plfsio

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/chuckcranor/deltafs/internal/pools"
)

// BloomFilterBuilder accumulates keys for one table and emits a Bloom
// filter block sized for a declared bits-per-key budget. Hashing is
// xxhash64, the same baseline the partitioned directory writer uses for
// partition assignment (spec section 4.6), double-hashed the standard way:
// a second probe offset is derived from the upper bits of the same hash
// rather than computing an independent hash per probe.
type BloomFilterBuilder struct {
	bitsPerKey int
	hashes     []uint64
}

// NewBloomFilterBuilder creates a builder targeting bitsPerKey bits per
// inserted key (the Options.BFBitsPerKey value). bitsPerKey == 0 disables
// the filter: Finish returns an empty block and every lookup must fall
// back to scanning the table (the "filter-off correctness" scenario).
func NewBloomFilterBuilder(bitsPerKey int) *BloomFilterBuilder {
	return &BloomFilterBuilder{bitsPerKey: bitsPerKey}
}

func (f *BloomFilterBuilder) Add(key []byte) {
	f.hashes = append(f.hashes, xxhash.Sum64(key))
}

func (f *BloomFilterBuilder) NumKeys() int {
	return len(f.hashes)
}

// Finish emits (bits | num_hashes_u8 | num_bits_u32_LE).
func (f *BloomFilterBuilder) Finish() []byte {
	n := len(f.hashes)
	if f.bitsPerKey <= 0 || n == 0 {
		buf := pools.NewBufferBuilder(5)
		defer buf.Release()
		buf.WriteByte(0)
		buf.WriteUint32LE(0)
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out
	}

	k := int(math.Round(0.69 * float64(f.bitsPerKey)))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	numBits := n * f.bitsPerKey
	if numBits < 64 {
		numBits = 64
	}
	numBytes := (numBits + 7) / 8
	numBits = numBytes * 8

	bits := make([]byte, numBytes)
	for _, h := range f.hashes {
		delta := (h >> 17) | (h << 47)
		probe := h
		for j := 0; j < k; j++ {
			bitpos := probe % uint64(numBits)
			bits[bitpos/8] |= 1 << (bitpos % 8)
			probe += delta
		}
	}

	buf := pools.NewBufferBuilder(numBytes + 5)
	defer buf.Release()
	buf.Write(bits)
	buf.WriteByte(byte(k))
	buf.WriteUint32LE(uint32(numBits))

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// BloomFilterMayContain probes a block emitted by Finish. It returns true
// (a possible false positive) when the filter is empty/disabled, matching
// the scan-fallback semantics required when bf_bits_per_key=0.
func BloomFilterMayContain(block []byte, key []byte) bool {
	if len(block) < 5 {
		return true
	}
	numHashes := int(block[len(block)-5])
	numBits := le32(block[len(block)-4:])
	if numHashes == 0 || numBits == 0 {
		return true
	}

	bits := block[:len(block)-5]
	h := xxhash.Sum64(key)
	delta := (h >> 17) | (h << 47)
	probe := h
	for j := 0; j < numHashes; j++ {
		bitpos := probe % uint64(numBits)
		if bits[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		probe += delta
	}
	return true
}
