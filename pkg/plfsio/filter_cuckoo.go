package plfsio

import (
	"math/rand"

	"github.com/cespare/xxhash/v2"

	"github.com/chuckcranor/deltafs/internal/pools"
)

const (
	// MaxKicks is the relocation budget before an insert gives up on the
	// main table and spills its evicted fingerprint to an auxiliary table.
	MaxKicks = 500
	// MaxCuckooChain bounds how many auxiliary tables a victim may chain
	// through. The original source left this unbounded; this repo picks a
	// conservative cap and surfaces anything beyond it as a dropped victim.
	MaxCuckooChain = 8

	cuckooBucketSize = 4
)

type cuckooTable struct {
	slots      []uint32
	numBuckets uint32
}

func newCuckooTable(targetOccupancy int) *cuckooTable {
	numBuckets := uint32((targetOccupancy + cuckooBucketSize - 1) / cuckooBucketSize)
	if numBuckets < 1 {
		numBuckets = 1
	}
	return &cuckooTable{
		slots:      make([]uint32, numBuckets*cuckooBucketSize),
		numBuckets: numBuckets,
	}
}

func (t *cuckooTable) tryPlace(idx uint32, entry uint32) bool {
	base := idx * cuckooBucketSize
	for i := uint32(0); i < cuckooBucketSize; i++ {
		if t.slots[base+i] == 0 {
			t.slots[base+i] = entry
			return true
		}
	}
	return false
}

// CuckooFilterBuilder implements a (K, V)-parameterized cuckoo filter: K
// fingerprint bits identify a key, V associated value bits (0 when
// unused) ride alongside it so a lookup can return which value(s) a key
// maps to without a second probe. On relocation failure after MaxKicks
// kicks, the evicted fingerprint becomes a victim and chains through up
// to MaxCuckooChain auxiliary tables, each sized for the prior table's
// worst-case overflow.
type CuckooFilterBuilder struct {
	fingerprintBits int
	valueBits       int
	cuckooFrac      float64

	main       *cuckooTable
	aux        []*cuckooTable
	numKeys    int
	numVictims int

	rng *rand.Rand
}

// NewCuckooFilterBuilder creates a builder sized for capacity keys, each
// contributing a value of valueBits bits (0 if the filter only needs
// membership, not an associated value).
func NewCuckooFilterBuilder(capacity, fingerprintBits, valueBits int, cuckooFrac float64) *CuckooFilterBuilder {
	if cuckooFrac <= 0 || cuckooFrac > 1 {
		cuckooFrac = 0.95
	}
	target := int(float64(capacity) / cuckooFrac)
	if target < cuckooBucketSize {
		target = cuckooBucketSize
	}
	return &CuckooFilterBuilder{
		fingerprintBits: fingerprintBits,
		valueBits:       valueBits,
		cuckooFrac:      cuckooFrac,
		main:            newCuckooTable(target),
		rng:             rand.New(rand.NewSource(0xC0FFEE)),
	}
}

func (f *CuckooFilterBuilder) fingerprint(key []byte) uint32 {
	mask := uint32(1)<<f.fingerprintBits - 1
	fp := uint32(xxhash.Sum64(key)) & mask
	if fp == 0 {
		fp = 1
	}
	return fp
}

func (f *CuckooFilterBuilder) entry(fp uint32, value int) uint32 {
	return fp | uint32(value)<<f.fingerprintBits
}

// altOffset derives the XOR offset between a fingerprint's two candidate
// buckets in a table of the given size, consistently invertible so either
// bucket index can recover the other from the fingerprint alone.
func altOffset(fp uint32, numBuckets uint32) uint32 {
	return uint32(xxhash.Sum64(fingerprintBytes(fp))%uint64(numBuckets)) % numBuckets
}

func fingerprintBytes(fp uint32) []byte {
	return []byte{byte(fp), byte(fp >> 8), byte(fp >> 16), byte(fp >> 24)}
}

// Add inserts key with the given associated value (ignored if valueBits
// is 0). NumVictims increments once every time a relocation fails,
// whether the spilled fingerprint then lands in an auxiliary table or is
// dropped because the chain depth cap has been reached.
func (f *CuckooFilterBuilder) Add(key []byte, value int) {
	f.numKeys++
	fp := f.fingerprint(key)
	entry := f.entry(fp, value)

	i1 := uint32(xxhash.Sum64(key) % uint64(f.main.numBuckets))
	f.insert(f.main, i1, entry, fp, key)
}

// insert places entry (main table only; auxiliary tables go through
// spillToAux) into tbl at idx or its alternate bucket, kicking existing
// occupants around by their own fingerprint-derived alternate bucket
// until either a free slot turns up or MaxKicks is exhausted. key is
// carried through only so a MaxKicks failure can hand it to spillToAux —
// it plays no role in the kicking itself, which is fingerprint-only by
// design (a kicked entry's alternate bucket must be derivable from the
// entry alone, since the table never stores which key produced it).
func (f *CuckooFilterBuilder) insert(tbl *cuckooTable, idx uint32, entry, fp uint32, key []byte) {
	if tbl.tryPlace(idx, entry) {
		return
	}
	i2 := idx ^ altOffset(fp, tbl.numBuckets)
	if tbl.tryPlace(i2, entry) {
		return
	}

	curIdx := idx
	curEntry := entry
	curFP := fp
	for i := 0; i < MaxKicks; i++ {
		slot := f.rng.Intn(cuckooBucketSize)
		base := curIdx * cuckooBucketSize
		victim := tbl.slots[base+uint32(slot)]
		tbl.slots[base+uint32(slot)] = curEntry

		victimFP := victim & (uint32(1)<<f.fingerprintBits - 1)
		victimIdx := curIdx ^ altOffset(victimFP, tbl.numBuckets)

		if tbl.tryPlace(victimIdx, victim) {
			return
		}

		curIdx, curEntry, curFP = victimIdx, victim, victimFP
	}

	f.spillToAux(curEntry, curFP, key)
}

// spillToAux places an entry that could not settle in the main table
// into a new auxiliary table, anchored at hash(key) % numBuckets exactly
// as CuckooFilterLookup computes it for every table it probes. Anchoring
// on the fingerprint instead (as a fingerprint-only table would) would
// place the entry somewhere a lookup for key never looks, since lookup
// has no way to recover fp's own hash without already knowing fp.
func (f *CuckooFilterBuilder) spillToAux(entry, fp uint32, key []byte) {
	f.numVictims++
	if len(f.aux) >= MaxCuckooChain {
		return // dropped: chain depth cap exceeded
	}

	depth := len(f.aux)
	// Each new auxiliary table is sized for the worst case overflow of
	// the one before it: a quarter of the prior table's capacity.
	prevCapacity := int(f.main.numBuckets) * cuckooBucketSize
	if depth > 0 {
		prevCapacity = int(f.aux[depth-1].numBuckets) * cuckooBucketSize
	}
	tbl := newCuckooTable(prevCapacity/4 + cuckooBucketSize)
	f.aux = append(f.aux, tbl)

	idx := uint32(xxhash.Sum64(key) % uint64(tbl.numBuckets))
	if tbl.tryPlace(idx, entry) {
		return
	}
	i2 := idx ^ altOffset(fp, tbl.numBuckets)
	if tbl.tryPlace(i2, entry) {
		return
	}

	// This auxiliary table is also full; chain one level deeper. The
	// fingerprint was already counted as a victim on entry to this
	// function, so cascading through another level must not count it
	// again.
	if len(f.aux) < MaxCuckooChain {
		next := newCuckooTable(int(tbl.numBuckets) * cuckooBucketSize / 4 + cuckooBucketSize)
		f.aux = append(f.aux, next)
		ni := uint32(xxhash.Sum64(key) % uint64(next.numBuckets))
		next.tryPlace(ni, entry)
	}
}

func (f *CuckooFilterBuilder) NumKeys() int    { return f.numKeys }
func (f *CuckooFilterBuilder) NumVictims() int { return f.numVictims }

// Finish emits (main table | auxiliary tables | descriptor). The
// descriptor is written last so a streaming reader can still locate it
// from the filter handle's length without a separate index.
func (f *CuckooFilterBuilder) Finish() []byte {
	buf := pools.NewBufferBuilder(4096)
	defer buf.Release()

	buf.Write(uint32SliceToLE(f.main.slots))
	for _, t := range f.aux {
		buf.Write(uint32SliceToLE(t.slots))
	}

	buf.WriteByte(byte(f.fingerprintBits))
	buf.WriteByte(byte(f.valueBits))
	buf.WriteByte(cuckooBucketSize)
	buf.WriteUint32LE(f.main.numBuckets)
	for _, t := range f.aux {
		buf.WriteUint32LE(t.numBuckets)
	}
	// numTables is the very last byte so a reader can locate the rest of
	// the descriptor by walking backward from the end of the block.
	buf.WriteByte(byte(len(f.aux) + 1))

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

func uint32SliceToLE(s []uint32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}

// CuckooFilterLookup parses a block emitted by Finish and returns the set
// of associated values stored for key across the main table and every
// auxiliary table in the chain.
func CuckooFilterLookup(block []byte, key []byte) []int {
	if len(block) < 4 {
		return nil
	}
	numTables := int(block[len(block)-1])
	bucketsStart := len(block) - 1 - numTables*4
	if bucketsStart < 3 {
		return nil
	}
	bucketSize := int(block[bucketsStart-1])
	valueBits := int(block[bucketsStart-2])
	fingerprintBits := int(block[bucketsStart-3])

	numBuckets := make([]uint32, numTables)
	for i := 0; i < numTables; i++ {
		numBuckets[i] = le32(block[bucketsStart+i*4:])
	}

	mask := uint32(1)<<fingerprintBits - 1
	var valueMask uint32
	if valueBits > 0 {
		valueMask = uint32(1)<<valueBits - 1
	}
	fp := uint32(xxhash.Sum64(key)) & mask
	if fp == 0 {
		fp = 1
	}

	var values []int
	offset := 0
	for i := 0; i < numTables; i++ {
		tableLen := int(numBuckets[i]) * bucketSize * 4
		table := block[offset : offset+tableLen]
		offset += tableLen

		i1 := uint32(xxhash.Sum64(key) % uint64(numBuckets[i]))
		i2 := i1 ^ altOffset(fp, numBuckets[i])
		for _, idx := range []uint32{i1, i2} {
			base := idx * uint32(bucketSize) * 4
			for s := 0; s < bucketSize; s++ {
				off := base + uint32(s)*4
				entry := le32(table[off:])
				entryFP := entry & mask
				if entryFP == fp && entry != 0 {
					values = append(values, int((entry>>fingerprintBits)&valueMask))
				}
			}
		}
	}
	return values
}
