package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/config"
)

const twoCookies = `[{"domain":".example.com","name":"laravel_session","path":"/","value":"a"},{"domain":".example.com","name":"XSRF-TOKEN","value":"b"}]`

func TestReloadReplacesCookies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(twoCookies), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := config.NewCookieSource(nil)
	w := New(path, src, zap.NewNop().Sugar())
	w.Reload()
	if src.Len() != 2 {
		t.Fatalf("expected 2 cookies, got %d", src.Len())
	}
}

func TestReloadKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := config.NewCookieSource([]config.Cookie{{Name: "old", Value: "1", Path: "/"}})
	w := New(path, src, zap.NewNop().Sugar())
	var gotErr error
	w.OnReload = func(_ int, err error) { gotErr = err }
	w.Reload()
	if gotErr == nil {
		t.Fatalf("expected reload error")
	}
	if src.Len() != 1 || src.Cookies()[0].Name != "old" {
		t.Fatalf("expected previous cookies kept, got %+v", src.Cookies())
	}

	if err := os.WriteFile(path, []byte("[]"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Reload()
	if gotErr != config.ErrNoCookies || src.Len() != 1 {
		t.Fatalf("expected empty export to be ignored, got err=%v len=%d", gotErr, src.Len())
	}
}

func TestWatcherPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	src := config.NewCookieSource(nil)
	w := New(path, src, zap.NewNop().Sugar())
	reloaded := make(chan int, 8)
	w.OnReload = func(n int, err error) {
		if err == nil {
			reloaded <- n
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(path, []byte(twoCookies), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case n := <-reloaded:
		if n != 2 {
			t.Fatalf("expected 2 cookies, got %d", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("watcher did not reload")
	}
}

func TestStartWithoutPathIsNoop(t *testing.T) {
	w := New("", config.NewCookieSource(nil), zap.NewNop().Sugar())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
