package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/metrics"
)

var (
	ErrPoolClosed = errors.New("pool fechado")
	ErrQueueFull  = errors.New("buffer cheio")
)

// Job is a unit of side work (Redis writes, diagnostics publishing) that must
// not run on the decoder thread.
type Job interface {
	Process(ctx context.Context) error
	GetID() string
}

type funcJob struct {
	id string
	fn func(ctx context.Context) error
}

func (j funcJob) Process(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) GetID() string                     { return j.id }

// Func adapts a function into a Job.
func Func(id string, fn func(ctx context.Context) error) Job {
	return funcJob{id: id, fn: fn}
}

type Pool struct {
	name       string
	jobs       chan Job
	workers    int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	processing int32

	mu     sync.RWMutex
	closed bool

	totalProcessed int64
	totalErrors    int64
}

func NewPool(ctx context.Context, name string, workers int, bufferSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &Pool{
		name:    name,
		jobs:    make(chan Job, bufferSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker(i)
	}

	logger.L().Infow("Worker pool inicializado",
		"pool_name", name,
		"workers", workers,
		"buffer_size", bufferSize)

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			metrics.WorkerPoolQueueSize.WithLabelValues(p.name).Set(float64(len(p.jobs)))

			atomic.AddInt32(&p.processing, 1)
			err := job.Process(p.ctx)
			atomic.AddInt32(&p.processing, -1)
			processed := atomic.AddInt64(&p.totalProcessed, 1)

			if err != nil {
				errs := atomic.AddInt64(&p.totalErrors, 1)
				logger.L().Warnw("Job falhou",
					"pool_name", p.name,
					"worker", id,
					"job_id", job.GetID(),
					"total_errors", errs,
					"total_processed", processed,
					"error", err)
			}
		}
	}
}

func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		metrics.WorkerPoolQueueSize.WithLabelValues(p.name).Set(float64(len(p.jobs)))
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
		return fmt.Errorf("%w: job %s descartado", ErrQueueFull, job.GetID())
	}
}

// Close stops accepting jobs and waits up to timeout for queued ones. Jobs
// still running after that see their context cancelled.
func (p *Pool) Close(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.L().Infow("Worker pool finalizado", "pool_name", p.name, "stats", p.Stats().String())
	case <-time.After(timeout):
		logger.L().Warnw("Timeout fechando worker pool",
			"pool_name", p.name,
			"processing", atomic.LoadInt32(&p.processing))
	}
	p.cancel()
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.workers,
		QueueSize:      len(p.jobs),
		Processing:     int(atomic.LoadInt32(&p.processing)),
		Capacity:       cap(p.jobs),
		TotalProcessed: atomic.LoadInt64(&p.totalProcessed),
		TotalErrors:    atomic.LoadInt64(&p.totalErrors),
	}
}

type PoolStats struct {
	Workers        int
	QueueSize      int
	Processing     int
	Capacity       int
	TotalProcessed int64
	TotalErrors    int64
}

func (ps PoolStats) String() string {
	return fmt.Sprintf("Workers: %d, Queue: %d/%d, Processing: %d, Total: %d (erros: %d)",
		ps.Workers, ps.QueueSize, ps.Capacity, ps.Processing, ps.TotalProcessed, ps.TotalErrors)
}
