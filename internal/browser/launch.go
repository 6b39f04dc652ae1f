package browser

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"callwatch/internal/config"
)

// Session owns one browser and the single page the monitor drives.
type Session struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *RodPage
	log      *zap.SugaredLogger
}

// Launch starts a local Chrome, or attaches to cfg.DebuggerURL when set, and
// opens a blank page sized to the configured viewport.
func Launch(ctx context.Context, cfg config.BrowserConfig, log *zap.SugaredLogger) (*Session, error) {
	s := &Session{log: log}

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			NoSandbox(true).
			Set(flags.Flag("disable-blink-features"), "AutomationControlled").
			Set(flags.Flag("disable-dev-shm-usage")).
			Set(flags.Flag("disable-gpu")).
			Set(flags.Flag("window-size"), strconv.Itoa(cfg.ViewportWidth)+","+strconv.Itoa(cfg.ViewportHeight))
		if cfg.ChromeBin != "" {
			l = l.Bin(cfg.ChromeBin)
		}
		if cfg.UserAgent != "" {
			l = l.Set(flags.Flag("user-agent"), cfg.UserAgent)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		s.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = b

	pg, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		if err := pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			log.Warnw("viewport not applied", "err", err)
		}
	}
	s.page = NewRodPage(pg, cfg.NavigationTimeout)
	log.Infow("browser ready", "headless", cfg.Headless, "attached", cfg.DebuggerURL != "")
	return s, nil
}

// Page returns the monitored page.
func (s *Session) Page() Page {
	return s.page
}

// Close releases the page, the browser connection and any launched process.
func (s *Session) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	s.cleanupLauncher()
	return err
}

func (s *Session) cleanupLauncher() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
}
