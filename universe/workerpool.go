package universe

import (
	"context"
	"sync"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
)

// workerPool dispatches ready mutator nodes of one pipeline level as CPU
// tasks, adapted from the teacher's worker_pool.go with Command-buffer
// results replaced by the plain error a mutator's Execute returns.
type workerPool struct {
	size   int
	jobs   chan jobRequest
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type jobRequest struct {
	ctx    context.Context
	fn     func(context.Context) jobResult
	result chan jobResult
}

type jobResult struct {
	err error
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		return nil
	}
	p := &workerPool{size: size, jobs: make(chan jobRequest), closed: make(chan struct{})}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(job)
		case <-p.closed:
			return
		}
	}
}

func (p *workerPool) execute(job jobRequest) {
	defer close(job.result)
	select {
	case <-job.ctx.Done():
		job.result <- jobResult{err: job.ctx.Err()}
	default:
		job.result <- job.fn(job.ctx)
	}
}

func (p *workerPool) Submit(ctx context.Context, fn func(context.Context) jobResult) *jobHandle {
	if p == nil {
		ch := make(chan jobResult, 1)
		ch <- fn(ctx)
		close(ch)
		return &jobHandle{result: ch}
	}
	result := make(chan jobResult, 1)
	job := jobRequest{ctx: ctx, fn: fn, result: result}
	select {
	case <-p.closed:
		result <- jobResult{err: ErrWorkerPoolClosed}
		close(result)
		return &jobHandle{result: result}
	case <-ctx.Done():
		result <- jobResult{err: ctx.Err()}
		close(result)
		return &jobHandle{result: result}
	default:
	}
	if safeSendJob(p.jobs, job) {
		return &jobHandle{result: result}
	}
	result <- jobResult{err: ErrWorkerPoolClosed}
	close(result)
	return &jobHandle{result: result}
}

func (p *workerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.closed)
		close(p.jobs)
	})
	p.wg.Wait()
}

type jobHandle struct {
	result chan jobResult
}

func (h *jobHandle) Wait() jobResult {
	res, ok := <-h.result
	if !ok {
		return jobResult{}
	}
	return res
}

func safeSendJob(ch chan jobRequest, job jobRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ch <- job
	return true
}

// jobHandleImpl is the JobHandle a mutator's Execute receives: it exposes
// the world, tick timing, and a Spawn method for detaching additional tasks
// that the pipeline boundary waits on, per SPEC_FULL §5's CPU job/task list.
type jobHandleImpl struct {
	world  *World
	tick   uint64
	dt     time.Duration
	logger kanlog.Logger
	tracer Tracer

	mu       sync.Mutex
	spawned  sync.WaitGroup
	firstErr error
}

func (h *jobHandleImpl) World() *World { return h.world }

func (h *jobHandleImpl) TickIndex() uint64 { return h.tick }

func (h *jobHandleImpl) TimeDelta() time.Duration { return h.dt }

func (h *jobHandleImpl) Logger() kanlog.Logger { return h.logger }

func (h *jobHandleImpl) Tracer() Tracer { return h.tracer }

// Spawn detaches an additional task; the pipeline level does not consider
// this mutator node finished until every spawned task returns.
func (h *jobHandleImpl) Spawn(fn func(context.Context) error) {
	h.spawned.Add(1)
	go func() {
		defer h.spawned.Done()
		if err := fn(context.Background()); err != nil {
			h.mu.Lock()
			if h.firstErr == nil {
				h.firstErr = err
			}
			h.mu.Unlock()
		}
	}()
}

func (h *jobHandleImpl) wait() {
	h.spawned.Wait()
}

func (h *jobHandleImpl) errFromSpawned() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstErr
}

var _ JobHandle = (*jobHandleImpl)(nil)
