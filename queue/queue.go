package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job encapsulates a unit of work processed by the worker pool.
type Job struct {
	ID       string
	Source   string
	Work     func(context.Context) error
	OnFinish func(error)
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	InFlight    int64  `json:"in_flight"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
}

// Queue represents a bounded job queue with a fixed worker pool. Jobs run
// under a context that outlives the caller's, so shutdown can let in-flight
// work finish before cancelling it.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	log         *zap.SugaredLogger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	inFlight  int64
	processed uint64
	failed    uint64
}

// New creates a new Queue with the provided capacity, worker count, and per-job timeout.
func New(capacity, workerCount int, timeout time.Duration, log *zap.SugaredLogger) *Queue {
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		log:         log,
	}
}

// Start launches the worker pool. Jobs are not cancelled when ctx is done;
// only Stop cancels them, after its join window.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.mu.Unlock()
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(jobCtx)
	}
}

// Enqueue attempts to queue a job without blocking. Returns false if the
// queue is full, not started, or stopped.
func (q *Queue) Enqueue(j Job) bool {
	return q.tryEnqueue(j, true)
}

// EnqueueWithRetry attempts to queue a job with a bounded retry window. Returns (enqueued, droppedFull).
func (q *Queue) EnqueueWithRetry(ctx context.Context, j Job, window time.Duration, interval time.Duration) (bool, bool) {
	deadline := time.Now().Add(window)
	if q.tryEnqueue(j, false) {
		return true, false
	}
	if !q.Healthy() {
		q.log.Warnw("enqueue while queue not running", "job", j.ID)
		return false, false
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, false
		case <-time.After(interval):
			if q.tryEnqueue(j, false) {
				return true, false
			}
		}
	}
	q.log.Warnw("job queue full, dropping job", "job", j.ID, "source", j.Source)
	return false, true
}

func (q *Queue) tryEnqueue(j Job, logDrop bool) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		if logDrop {
			q.log.Warnw("enqueue while queue not running", "job", j.ID)
		}
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		if logDrop {
			q.log.Warnw("job queue full, dropping job", "job", j.ID, "source", j.Source)
		}
		return false
	}
}

// Stop stops accepting new jobs and waits for queued and in-flight jobs to
// finish until ctx is done; remaining jobs are then cancelled. It reports
// whether the queue drained in time.
func (q *Queue) Stop(ctx context.Context) bool {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return true
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return true
	case <-ctx.Done():
		q.cancel()
		q.log.Warnw("queue join window expired, cancelling jobs", "in_flight", atomic.LoadInt64(&q.inFlight), "queued", len(q.jobs))
		<-done
		return false
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	return Stats{
		Length:      len(q.jobs),
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		InFlight:    atomic.LoadInt64(&q.inFlight),
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for j := range q.jobs {
		q.handleJob(ctx, j)
	}
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	atomic.AddInt64(&q.inFlight, 1)
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			q.log.Errorw("job panic recovered", "job", j.ID, "panic", r)
		}
		atomic.AddInt64(&q.inFlight, -1)
		atomic.AddUint64(&q.processed, 1)
		status := "success"
		if err != nil {
			atomic.AddUint64(&q.failed, 1)
			status = err.Error()
		}
		if j.OnFinish != nil {
			j.OnFinish(err)
		}
		q.log.Infow("job finished", "job_source", j.Source, "job", j.ID, "duration_ms", time.Since(start).Milliseconds(), "status", status)
	}()

	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	err = j.Work(jobCtx)
}

// Healthy returns true if the queue is running.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}
