package stairway

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/stairway/pkg/ctxutil"
	"github.com/yungbote/stairway/pkg/logger"
)

// workerPool runs flights on goroutines behind a weighted semaphore. Tasks
// beyond the parallel limit wait for a slot; terminate cancels the shared
// context, which both interrupts running flights at step boundaries and
// rejects waiters that never started.
type workerPool struct {
	log       *logger.Logger
	sem       *semaphore.Weighted
	maxActive int64
	maxQueued int64

	active atomic.Int64
	queued atomic.Int64
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newWorkerPool(maxParallel, maxQueued int, log *logger.Logger) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		log:       log.With("component", "WorkerPool"),
		sem:       semaphore.NewWeighted(int64(maxParallel)),
		maxActive: int64(maxParallel),
		maxQueued: int64(maxQueued),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// spaceAvailable reports whether a new flight would run promptly: either a
// free slot exists or the local wait line is short.
func (p *workerPool) spaceAvailable() bool {
	return p.active.Load() < p.maxActive || p.queued.Load() < p.maxQueued
}

// launch schedules run on a pool goroutine. The diagnostic map from the
// submitter's context is installed on the worker context so logs correlate
// across the pool boundary. rejected fires when the pool shuts down before
// the task gets a slot.
func (p *workerPool) launch(diag ctxutil.Diag, run func(ctx context.Context), rejected func()) {
	p.queued.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.queued.Add(-1)
			rejected()
			return
		}
		p.queued.Add(-1)
		p.active.Add(1)
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
		}()
		run(ctxutil.WithDiag(p.ctx, diag))
	}()
}

// terminate interrupts everything on the pool's shared context.
func (p *workerPool) terminate() { p.cancel() }

// wait blocks until every launched task has settled.
func (p *workerPool) wait() { p.wg.Wait() }
