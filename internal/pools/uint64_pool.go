package pools

import (
	"sync"
)

// Uint64Pool pools the sort offset arrays a write buffer builds every
// time it drains into a table: one uint64 index per record, discarded the
// moment the compaction that consumed it finishes. Left unpooled, a
// checkpoint with a steady write rate would churn one of these per
// compaction per partition for the life of the run.
type Uint64Pool struct {
	small  sync.Pool // <= 16 elements
	medium sync.Pool // <= 64 elements
	large  sync.Pool // <= 256 elements
}

// uint64PoolDontPoolAbove bounds what Put will accept back; a partition
// sized for a very large memtable budget can produce an offset array well
// past this, and there is no point growing a pool bucket to match it.
const uint64PoolDontPoolAbove = 10000

// NewUint64Pool creates an empty pool.
func NewUint64Pool() *Uint64Pool {
	p := &Uint64Pool{}
	p.small = sync.Pool{New: func() any { s := make([]uint64, 0, 16); return &s }}
	p.medium = sync.Pool{New: func() any { s := make([]uint64, 0, 64); return &s }}
	p.large = sync.Pool{New: func() any { s := make([]uint64, 0, 256); return &s }}
	return p
}

func (p *Uint64Pool) poolFor(n int) (*sync.Pool, bool) {
	switch {
	case n <= 16:
		return &p.small, true
	case n <= 64:
		return &p.medium, true
	case n <= 256:
		return &p.large, true
	default:
		return nil, false
	}
}

// Get returns a slice with at least the requested capacity and length 0.
func (p *Uint64Pool) Get(size int) []uint64 {
	pool, ok := p.poolFor(size)
	if !ok {
		return make([]uint64, 0, size)
	}
	sp, ok := pool.Get().(*[]uint64)
	if !ok || cap(*sp) < size {
		return make([]uint64, 0, size)
	}
	return (*sp)[:0]
}

// Put returns s to the pool sized by its capacity.
func (p *Uint64Pool) Put(s []uint64) {
	c := cap(s)
	if c > uint64PoolDontPoolAbove {
		return
	}
	pool, ok := p.poolFor(c)
	if !ok {
		return
	}
	s = s[:0]
	pool.Put(&s)
}

var defaultUint64Pool = NewUint64Pool()

// GetUint64s borrows an offset array from the package default pool.
func GetUint64s(size int) []uint64 {
	return defaultUint64Pool.Get(size)
}

// PutUint64s returns an offset array to the package default pool.
func PutUint64s(s []uint64) {
	defaultUint64Pool.Put(s)
}
