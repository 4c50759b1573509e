package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// MemoryQueue is an in-process worker pool over a buffered channel.
// Jobs do not survive a restart; callers recover pending work from storage.
type MemoryQueue struct {
	opts   Options
	logger *log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     chan *Job
	done     chan struct{}
	started  bool
	closed   bool
	cancel   context.CancelFunc
	dropped  atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryQueue builds a queue with opts applied over the defaults.
func NewMemoryQueue(opts Options, logger *log.Logger) *MemoryQueue {
	opts = opts.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryQueue{
		opts:     opts,
		logger:   logger.WithPrefix("queue"),
		handlers: make(map[string]Handler),
		jobs:     make(chan *Job, opts.Size),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for jobType.
func (q *MemoryQueue) Subscribe(jobType string, h Handler) error {
	if jobType == "" || h == nil {
		return fmt.Errorf("queue: job type and handler are required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.handlers[jobType] = h
	return nil
}

// Enqueue blocks until the job is buffered, ctx is done or the queue closes.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	job, err := newJob(jobType, payload)
	if err != nil {
		return "", err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrClosed
	}
	if _, ok := q.handlers[jobType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNoHandler, jobType)
	}

	select {
	case q.jobs <- job:
		return job.ID, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start launches the worker goroutines. Cancelling ctx does not interrupt
// jobs; Close does once its deadline passes.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return nil
	}
	q.started = true

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(workCtx, i)
	}
	q.logger.Info("started workers", "count", q.opts.Workers)
	return nil
}

// Close stops accepting jobs, lets workers drain the buffer and waits for
// them or for ctx.
func (q *MemoryQueue) Close(ctx context.Context) error {
	first := false
	q.closeOnce.Do(func() { first = true })
	if !first {
		return nil
	}

	close(q.done)

	q.mu.Lock()
	q.closed = true
	close(q.jobs)
	started, cancel := q.started, q.cancel
	q.mu.Unlock()

	if !started {
		return nil
	}
	defer cancel()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		q.logger.Info("all workers finished")
		return nil
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted, cancelling in-flight jobs", "remaining", len(q.jobs))
		cancel()
		return ctx.Err()
	}
}

func (q *MemoryQueue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	logger := q.logger.With("worker", id)
	logger.Debug("worker started")

	for job := range q.jobs {
		q.process(ctx, logger, job)
	}
	logger.Debug("worker stopped")
}

func (q *MemoryQueue) process(ctx context.Context, logger *log.Logger, job *Job) {
	if job.Attempt > 0 {
		wait := q.opts.Backoff(job.Attempt)
		logger.Debug("waiting before retry", "job", job.ID, "attempt", job.Attempt, "backoff", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			logger.Warn("retry abandoned", "job", job.ID, "err", err)
			return
		}
	}

	q.mu.RLock()
	h := q.handlers[job.Type]
	q.mu.RUnlock()
	if h == nil {
		logger.Error("dropping job without handler", "job", job.ID, "type", job.Type)
		return
	}

	err := h(ctx, job)
	if err == nil {
		return
	}

	logger.Error("job failed", "job", job.ID, "type", job.Type, "attempt", job.Attempt, "err", err)
	q.requeue(logger, job)
}

// requeue resubmits a failed job unless its retry budget is spent or the
// queue is shutting down.
func (q *MemoryQueue) requeue(logger *log.Logger, job *Job) {
	if job.Attempt >= q.opts.MaxRetries {
		logger.Warn("max retries exceeded, giving up", "job", job.ID, "max", q.opts.MaxRetries)
		q.drop(job, ErrRetriesExhausted)
		return
	}
	job.Attempt++

	select {
	case <-q.done:
		logger.Warn("shutdown in progress, not requeueing", "job", job.ID)
		q.drop(job, ErrClosed)
		return
	default:
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(job, ErrClosed)
		return
	}

	select {
	case q.jobs <- job:
		logger.Info("requeued job", "job", job.ID, "attempt", job.Attempt, "max", q.opts.MaxRetries)
	case <-q.done:
		logger.Warn("shutdown in progress, not requeueing", "job", job.ID)
		q.drop(job, ErrClosed)
	case <-time.After(10 * time.Millisecond):
		logger.Warn("queue full, dropping retry", "job", job.ID, "attempt", job.Attempt)
		q.drop(job, ErrRetryDropped)
	}
}

func (q *MemoryQueue) drop(job *Job, reason error) {
	q.dropped.Add(1)
	if q.opts.OnDrop != nil {
		q.opts.OnDrop(job, reason)
	}
}

// Dropped reports how many jobs were abandoned after failing.
func (q *MemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Len reports the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

var _ Queue = (*MemoryQueue)(nil)
