package app

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/calls"
	"callwatch/internal/metrics"
	"callwatch/internal/processor"
	"callwatch/queue"
)

func newDispatchApp(capacity int) *App {
	return &App{
		log:      zap.NewNop().Sugar(),
		metrics:  metrics.New(),
		registry: calls.NewRegistry(calls.Options{MinRowCells: 2, NumberCell: 1}),
		queue:    queue.New(capacity, 0, time.Second, zap.NewNop().Sugar()),
	}
}

func TestQueueDispatcherEnqueuesAndSyncsMetrics(t *testing.T) {
	a := newDispatchApp(2)
	a.queue.Start(context.Background())
	t.Cleanup(func() { a.queue.Stop(context.Background()) })

	job := processor.Job{Call: calls.CallSession{ID: "A", PhoneNumber: "15550001111"}}
	if !a.dispatcher().Dispatch(context.Background(), job) {
		t.Fatalf("expected job accepted")
	}
	snap := a.metrics.Snapshot()
	if snap.QueueLength != 1 || snap.QueueCapacity != 2 {
		t.Fatalf("expected queue 1/2 in metrics, got %d/%d", snap.QueueLength, snap.QueueCapacity)
	}
}

func TestQueueDispatcherWaitsForSlotThenGivesUp(t *testing.T) {
	a := newDispatchApp(1)
	a.queue.Start(context.Background())
	t.Cleanup(func() { a.queue.Stop(context.Background()) })

	d := a.dispatcher()
	if !d.Dispatch(context.Background(), processor.Job{Call: calls.CallSession{ID: "A"}}) {
		t.Fatalf("expected first job accepted")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	if d.Dispatch(ctx, processor.Job{Call: calls.CallSession{ID: "B"}}) {
		t.Fatalf("expected full queue to reject B")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("expected dispatcher to retry before giving up, returned after %s", elapsed)
	}
}

func TestQueueDispatcherRejectsWhenStopped(t *testing.T) {
	a := newDispatchApp(1)
	a.queue.Start(context.Background())
	a.queue.Stop(context.Background())

	if a.dispatcher().Dispatch(context.Background(), processor.Job{Call: calls.CallSession{ID: "A"}}) {
		t.Fatalf("expected stopped queue to reject the job")
	}
}
