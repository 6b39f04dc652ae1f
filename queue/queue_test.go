package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newQueue(capacity, workers int, timeout time.Duration) *Queue {
	return New(capacity, workers, timeout, zap.NewNop().Sugar())
}

func TestQueueProcessesJob(t *testing.T) {
	q := newQueue(10, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan struct{})
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			close(done)
			return nil
		},
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("job not processed")
	}
}

func TestQueueTimeoutAndBounded(t *testing.T) {
	q := newQueue(1, 0, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(Job{ID: "slow", Source: "test", Work: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if !ok {
		t.Fatalf("expected first enqueue to succeed")
	}

	if ok := q.Enqueue(Job{ID: "drop", Source: "test", Work: func(ctx context.Context) error { return nil }}); ok {
		t.Fatalf("expected enqueue to be rejected when queue is full")
	}
}

func TestEnqueueWithRetryDropsWhenFull(t *testing.T) {
	q := newQueue(1, 0, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	first := q.Enqueue(Job{ID: "first", Source: "test", Work: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }})
	if !first {
		t.Fatalf("expected initial enqueue to succeed")
	}

	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Source: "test", Work: func(ctx context.Context) error { return nil }}, 200*time.Millisecond, 50*time.Millisecond)
	if enqueued {
		t.Fatalf("expected enqueue to fail due to full queue")
	}
	if !dropped {
		t.Fatalf("expected enqueue to be reported as dropped after retries")
	}
}

func TestEnqueueWithRetryStoppedQueueFailsFast(t *testing.T) {
	q := newQueue(1, 0, time.Second)
	q.Start(context.Background())
	q.Stop(context.Background())

	start := time.Now()
	enqueued, dropped := q.EnqueueWithRetry(context.Background(), Job{ID: "late", Source: "test", Work: func(ctx context.Context) error { return nil }}, 5*time.Second, 50*time.Millisecond)
	if enqueued || dropped {
		t.Fatalf("expected (false, false) for stopped queue, got (%v, %v)", enqueued, dropped)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected no retry window on a stopped queue, took %s", elapsed)
	}
}

func TestStopDrainsQueuedJobs(t *testing.T) {
	q := newQueue(4, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	var ran int32
	for i := 0; i < 3; i++ {
		q.Enqueue(Job{ID: "j", Source: "test", Work: func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&ran, 1)
			return ctx.Err()
		}})
	}
	// Cancelling the start context must not abort queued work.
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if !q.Stop(stopCtx) {
		t.Fatalf("expected queue to drain")
	}
	if got := atomic.LoadInt32(&ran); got != 3 {
		t.Fatalf("expected 3 jobs run, got %d", got)
	}
	if q.Enqueue(Job{ID: "late", Work: func(context.Context) error { return nil }}) {
		t.Fatalf("expected enqueue after stop to fail")
	}
	if q.Healthy() {
		t.Fatalf("expected stopped queue to be unhealthy")
	}
}

func TestStopCancelsAfterJoinWindow(t *testing.T) {
	q := newQueue(1, 1, time.Minute)
	q.Start(context.Background())

	started := make(chan struct{})
	var cancelled int32
	q.Enqueue(Job{ID: "stuck", Work: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}})
	<-started

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stopCancel()
	if q.Stop(stopCtx) {
		t.Fatalf("expected join window to expire")
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Fatalf("expected stuck job to be cancelled")
	}
}

func TestPanicIsRecoveredAndReported(t *testing.T) {
	q := newQueue(1, 1, time.Second)
	q.Start(context.Background())

	finished := make(chan error, 1)
	q.Enqueue(Job{
		ID:       "boom",
		Work:     func(context.Context) error { panic("kaboom") },
		OnFinish: func(err error) { finished <- err },
	})
	select {
	case err := <-finished:
		if err == nil || errors.Is(err, context.Canceled) {
			t.Fatalf("expected panic error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnFinish not called")
	}
	if q.Stats().Failed != 1 {
		t.Fatalf("expected failed count 1, got %d", q.Stats().Failed)
	}
}
