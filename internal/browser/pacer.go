package browser

import (
	"context"
	"math/rand"
	"time"
)

// Pacer inserts human-like pauses between automated interactions.
type Pacer interface {
	Pause(ctx context.Context, min, max time.Duration) error
}

// RandomPacer sleeps for a uniformly random duration in [min, max].
type RandomPacer struct{}

func (RandomPacer) Pause(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	return Sleep(ctx, d)
}

// NoPacer never waits. Used in tests and when pacing is disabled.
type NoPacer struct{}

func (NoPacer) Pause(ctx context.Context, _, _ time.Duration) error {
	return ctx.Err()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TypeSlowly inserts text one rune at a time with short random pauses.
func TypeSlowly(ctx context.Context, page Page, pacer Pacer, text string) error {
	for _, r := range text {
		if err := page.InsertText(ctx, string(r)); err != nil {
			return err
		}
		if err := pacer.Pause(ctx, 60*time.Millisecond, 180*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
