package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// queuePerWorker bounds how many jobs may wait per worker slot before
// submissions are refused.
const queuePerWorker = 4

// workerPool runs jobs with bounded concurrency and a bounded queue. Refusal
// is immediate so the API can answer 503 instead of letting work pile up.
type workerPool struct {
	sem      *semaphore.Weighted
	maxQueue int64
	queued   atomic.Int64
	wg       sync.WaitGroup
}

func newWorkerPool(workers int) *workerPool {
	return &workerPool{
		sem:      semaphore.NewWeighted(int64(workers)),
		maxQueue: int64(workers * queuePerWorker),
	}
}

// Submit schedules fn, or returns ErrQueueFull. started is invoked on the
// worker goroutine once a slot is held, before fn. aborted is invoked instead
// of fn when ctx is cancelled while the job is still queued.
func (p *workerPool) Submit(ctx context.Context, started, aborted, fn func()) error {
	if p.queued.Add(1) > p.maxQueue {
		p.queued.Add(-1)
		return ErrQueueFull
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.queued.Add(-1)
			if aborted != nil {
				aborted()
			}
			return
		}
		p.queued.Add(-1)
		defer p.sem.Release(1)
		if started != nil {
			started()
		}
		fn()
	}()
	return nil
}

// QueueDepth is the number of submitted jobs not yet holding a worker slot.
func (p *workerPool) QueueDepth() int64 { return p.queued.Load() }

// Wait blocks until all submitted jobs have finished or bailed out.
func (p *workerPool) Wait() { p.wg.Wait() }
