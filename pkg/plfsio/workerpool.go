package plfsio

import (
	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds the number of compactions running concurrently across
// all partitions of a Dir. Each partition's DoubleBuffer schedules its
// compactions through the same pool so the total background work stays
// bounded by the pool's limit rather than growing with partition count.
type WorkerPool struct {
	g *errgroup.Group
}

// NewWorkerPool creates a pool that runs at most maxConcurrent jobs at
// once. maxConcurrent <= 0 means unbounded.
func NewWorkerPool(maxConcurrent int) *WorkerPool {
	g := &errgroup.Group{}
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &WorkerPool{g: g}
}

// Submit schedules job to run, possibly on a separate goroutine once a
// slot is free. If the pool is at its concurrency limit, Submit blocks
// until a slot opens up.
func (p *WorkerPool) Submit(job func()) {
	p.g.Go(func() error {
		job()
		return nil
	})
}

// Drain waits for every submitted job to finish. Called once at Dir
// Finish time so no compaction is still in flight when the process exits.
func (p *WorkerPool) Drain() {
	_ = p.g.Wait()
}
