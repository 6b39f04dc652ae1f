package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

func TestMapErrDetachedObjectIsStale(t *testing.T) {
	err := fmt.Errorf("eval row: %w", &rod.ObjectNotFoundError{RuntimeRemoteObject: &proto.RuntimeRemoteObject{}})
	if got := mapErr(err); !errors.Is(got, ErrStaleElement) {
		t.Fatalf("expected ErrStaleElement, got %v", got)
	}
}

func TestMapErrMissingNodeIsStale(t *testing.T) {
	err := &cdp.Error{Code: -32000, Message: "No node with given id found"}
	if got := mapErr(err); !errors.Is(got, ErrStaleElement) {
		t.Fatalf("expected ErrStaleElement, got %v", got)
	}
}

func TestMapErrPassesOtherErrorsThrough(t *testing.T) {
	if mapErr(nil) != nil {
		t.Fatalf("expected nil for nil")
	}
	boom := errors.New("websocket closed")
	if got := mapErr(boom); got != boom {
		t.Fatalf("expected error unchanged, got %v", got)
	}
	other := &cdp.Error{Code: -32601, Message: "method not found"}
	if got := mapErr(other); errors.Is(got, ErrStaleElement) {
		t.Fatalf("expected unrelated protocol error kept, got %v", got)
	}
}

func TestHoverPauseStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := hoverPause(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("expected immediate return, took %s", elapsed)
	}
}

func TestHoverPauseWaits(t *testing.T) {
	start := time.Now()
	if err := hoverPause(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected at least 100ms pause, got %s", elapsed)
	}
}
