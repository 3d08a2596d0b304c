package pools

import (
	"sync"
)

// Size classes a BytePool buckets requests into. They are sized around
// this repo's own allocation shapes: TinySize covers a varint header or a
// short checkpoint key, SmallSize a typical key, MediumSize a block
// trailer or small value, LargeSize a data block staged before
// compression, and HugeSize a batch of records staged for one table.
const (
	TinySize   = 16
	SmallSize  = 64
	MediumSize = 256
	LargeSize  = 1024
	HugeSize   = 4096
	// MaxPool bounds what Put will accept back. A partition's compacted
	// table buffers routinely exceed this once BlockSize climbs past a
	// few KiB, so those go back to the runtime allocator instead of
	// growing a sync.Pool bucket without limit.
	MaxPool = 65536
)

// sizeClass pairs a size ceiling with the pool that serves it. classes is
// walked in order, so it must stay sorted ascending by limit.
type sizeClass struct {
	limit int
	pool  *sync.Pool
}

// BytePool buckets byte-slice reuse by size class to keep the write path
// — one allocation per key, one per value, one per compacted block — from
// generating garbage the GC has to chase during a checkpoint burst.
type BytePool struct {
	tiny, small, medium, large, huge sync.Pool
	classes                          []sizeClass
}

// NewBytePool creates a byte pool with one sync.Pool per size class.
func NewBytePool() *BytePool {
	p := &BytePool{}
	newPoolFor := func(cap int) sync.Pool {
		return sync.Pool{New: func() any {
			b := make([]byte, 0, cap)
			return &b
		}}
	}
	p.tiny = newPoolFor(TinySize)
	p.small = newPoolFor(SmallSize)
	p.medium = newPoolFor(MediumSize)
	p.large = newPoolFor(LargeSize)
	p.huge = newPoolFor(HugeSize)
	p.classes = []sizeClass{
		{TinySize, &p.tiny},
		{SmallSize, &p.small},
		{MediumSize, &p.medium},
		{LargeSize, &p.large},
		{HugeSize, &p.huge},
	}
	return p
}

func (p *BytePool) classFor(n int) *sync.Pool {
	for _, c := range p.classes {
		if n <= c.limit {
			return c.pool
		}
	}
	return nil
}

// Get returns a byte slice with at least the requested capacity and
// length 0. Requests larger than HugeSize bypass pooling entirely, the
// same policy applied on the way back in by Put.
func (p *BytePool) Get(size int) []byte {
	pool := p.classFor(size)
	if pool == nil {
		return make([]byte, 0, size)
	}
	bp, ok := pool.Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// GetSized returns a byte slice with exactly the requested length,
// convenient for callers about to fill it via copy rather than append.
func (p *BytePool) GetSized(size int) []byte {
	b := p.Get(size)
	return b[:size]
}

// Put returns b to the pool sized by its capacity, not its length, so a
// buffer that was trimmed with a slice expression still lands in the
// class it was allocated from. Buffers over MaxPool are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c > MaxPool {
		return
	}
	pool := p.classFor(c)
	if pool == nil {
		return
	}
	b = b[:0]
	pool.Put(&b)
}

var defaultBytePool = NewBytePool()

// GetBytes borrows from the package default pool.
func GetBytes(size int) []byte {
	return defaultBytePool.Get(size)
}

// GetBytesSized borrows an exactly-sized slice from the default pool.
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns a slice to the default pool.
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}
