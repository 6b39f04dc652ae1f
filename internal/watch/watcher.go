package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"callwatch/internal/config"
)

// CookieWatcher reloads the cookie export whenever the file changes on disk.
// Editors usually replace files by rename, so the parent directory is
// watched and events are filtered by name.
type CookieWatcher struct {
	path   string
	source *config.CookieSource
	log    *zap.SugaredLogger

	// OnReload, if set, is called after every reload attempt.
	OnReload func(n int, err error)
}

func New(path string, source *config.CookieSource, log *zap.SugaredLogger) *CookieWatcher {
	return &CookieWatcher{path: path, source: source, log: log}
}

// Start begins watching. It returns once the watch is registered; events are
// handled in a goroutine until ctx is done.
func (w *CookieWatcher) Start(ctx context.Context) error {
	if w.path == "" {
		w.log.Info("cookie watcher disabled")
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(w.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					w.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warnw("cookie watcher error", "err", err)
			}
		}
	}()
	return nil
}

// Reload reads the file and swaps the cookie set. A missing, empty, or
// unparseable file keeps the previous cookies.
func (w *CookieWatcher) Reload() {
	n, err := w.reload()
	if err != nil {
		w.log.Warnw("cookie reload failed, keeping previous cookies", "path", w.path, "err", err)
	} else {
		w.log.Infow("cookies reloaded", "path", w.path, "count", n)
	}
	if w.OnReload != nil {
		w.OnReload(n, err)
	}
}

func (w *CookieWatcher) reload() (int, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0, err
	}
	cookies, err := config.ParseCookies(data)
	if err != nil {
		return 0, err
	}
	if len(cookies) == 0 {
		return 0, config.ErrNoCookies
	}
	w.source.Replace(cookies)
	return len(cookies), nil
}
