package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/browser"
	"callwatch/internal/calls"
	"callwatch/internal/challenge"
	"callwatch/internal/config"
	"callwatch/internal/events"
	"callwatch/internal/httpapi"
	"callwatch/internal/metrics"
	"callwatch/internal/monitor"
	"callwatch/internal/notify"
	"callwatch/internal/processor"
	"callwatch/internal/schedule"
	"callwatch/internal/session"
	"callwatch/internal/store"
	"callwatch/internal/transcribe"
	"callwatch/internal/watch"
	"callwatch/queue"
)

// App wires the monitor, the processing pipeline and the ops surface.
type App struct {
	cfg      config.Config
	log      *zap.SugaredLogger
	store    *store.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	registry *calls.Registry
	schedule *schedule.Schedule
	notifier notify.Notifier
	proc     *processor.Processor
	queue    *queue.Queue
	cookies  *config.CookieSource
	watcher  *watch.CookieWatcher
	mux      *http.ServeMux

	loop atomic.Pointer[monitor.Loop]
}

func New(cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sched, err := schedule.New(cfg.RefreshPattern)
	if err != nil {
		st.Close()
		return nil, err
	}

	cookies, err := config.LoadCookies(cfg)
	if err != nil && !errors.Is(err, config.ErrNoCookies) {
		log.Warnw("cookie credentials unusable", "err", err)
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		bus:      events.NewBus(),
		metrics:  metrics.New(),
		schedule: sched,
		cookies:  config.NewCookieSource(cookies),
		mux:      http.NewServeMux(),
	}
	a.registry = calls.NewRegistry(calls.Options{
		MinRowCells:   cfg.MinRowCells,
		NumberCell:    cfg.NumberCell,
		BaseURL:       cfg.BaseURL,
		RecordingPath: cfg.RecordingPath,
	})
	a.notifier = &notify.Telegram{
		Token:   cfg.BotToken,
		BaseURL: cfg.TelegramBaseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}

	var extractor processor.OTPExtractor
	if cfg.Transcribe.Enabled {
		extractor = transcribe.NewExtractor(
			transcribe.NewNormalizer(cfg.Transcribe.FFMPEGBin),
			&transcribe.OpenAI{APIKey: cfg.Transcribe.APIKey, BaseURL: cfg.Transcribe.BaseURL, Model: cfg.Transcribe.Model},
			cfg.Transcribe.Languages,
		)
	}
	a.proc = processor.New(processor.Options{
		DownloadDir:     cfg.DownloadDir,
		MinBytes:        cfg.MinRecordingBytes,
		DownloadTimeout: cfg.DownloadTimeout,
		PrimeDelay:      cfg.PrimeDelay,
		CallURL:         cfg.CallURL,
		BaseURL:         cfg.BaseURL,
		AdminChatID:     cfg.AdminChatID,
		GroupChatID:     cfg.GroupChatID,
		Location:        cfg.Location,
	}, a.notifier, extractor, a.registry, a.bus, a.metrics, log.Named("processor"))
	a.queue = queue.New(cfg.JobQueueSize, cfg.WorkerCount, cfg.JobTimeout, log.Named("queue"))

	if cfg.CookiesFile != "" && cfg.CookiesJSON == "" {
		a.watcher = watch.New(cfg.CookiesFile, a.cookies, log.Named("watch"))
	}

	router := httpapi.NewRouter(st, a.registry, a.metrics, a.queue, a.state, log.Named("http"))
	router.Register(a.mux)
	return a, nil
}

func (a *App) state() string {
	if l := a.loop.Load(); l != nil {
		return l.State().String()
	}
	return monitor.Bootstrapping.String()
}

// Run blocks until the monitor stops. Every exit path drains the queue,
// closes the browser and closes the store.
func (a *App) Run(ctx context.Context) error {
	ledgerDone := make(chan struct{})
	sub := a.bus.Subscribe(256)
	go func() {
		defer close(ledgerDone)
		a.store.Consume(context.Background(), sub, a.log.Named("ledger"))
	}()

	a.queue.Start(ctx)
	a.metrics.UpdateQueue(0, a.cfg.JobQueueSize, a.cfg.WorkerCount)

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			a.log.Warnw("cookie watcher not started", "path", a.cfg.CookiesFile, "err", err)
		}
	}

	srv := a.serveHTTP()

	var sess *browser.Session
	defer func() {
		a.shutdown(srv, sess)
		a.bus.Close()
		<-ledgerDone
		if err := a.store.Close(); err != nil {
			a.log.Warnw("close store", "err", err)
		}
	}()

	sess, err := browser.Launch(ctx, a.cfg.Browser, a.log.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	pacer := browser.RandomPacer{}
	challenger := challenge.New(a.log.Named("challenge"), pacer)
	guard := session.New(session.Options{
		LoginURL:   a.cfg.LoginURL,
		CallURL:    a.cfg.CallURL,
		BaseURL:    a.cfg.BaseURL,
		Email:      a.cfg.LoginEmail,
		Password:   a.cfg.LoginPassword,
		Cookies:    a.cookies,
		LoginWait:  a.cfg.TableWait,
		ManualWait: a.cfg.ManualLoginWait,
	}, challenger, pacer, a.log.Named("session"))

	loop := monitor.New(monitor.Options{
		CallURL:       a.cfg.CallURL,
		AdminChatID:   a.cfg.AdminChatID,
		TableSelector: a.cfg.TableSelector,
		MaxErrors:     a.cfg.MaxErrors,
		CheckInterval: a.cfg.CheckInterval,
		ErrorBackoff:  a.cfg.ErrorBackoff,
		ReauthBackoff: a.cfg.ReauthBackoff,
		TableWait:     a.cfg.TableWait,
	}, monitor.Deps{
		Page:       sess.Page(),
		Guard:      guard,
		Challenger: challenger,
		Rows:       calls.Scanner{TableSelector: a.cfg.TableSelector},
		Registry:   a.registry,
		Schedule:   a.schedule,
		Dispatcher: a.dispatcher(),
		Notifier:   a.notifier,
		Bus:        a.bus,
		Metrics:    a.metrics,
		Log:        a.log.Named("monitor"),
	})
	a.loop.Store(loop)
	a.log.Infow("monitor starting", "run_id", loop.RunID(), "workers", a.cfg.WorkerCount, "call_url", a.cfg.CallURL)
	return loop.Run(ctx)
}

func (a *App) serveHTTP() *http.Server {
	if a.cfg.HTTPPort == "" {
		return nil
	}
	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.log.Infow("http listening", "addr", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Errorw("http server failed", "err", err)
		}
	}()
	return srv
}

// shutdown stops intake, joins workers for up to JobTimeout, then releases
// the browser and the HTTP listener.
func (a *App) shutdown(srv *http.Server, sess *browser.Session) {
	joinCtx, cancel := context.WithTimeout(context.Background(), a.cfg.JobTimeout)
	defer cancel()
	if !a.queue.Stop(joinCtx) {
		a.log.Warnw("processing jobs cancelled at shutdown", "processing", a.registry.Processing())
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			a.log.Warnw("close browser", "err", err)
		}
	}
	if srv != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		_ = srv.Shutdown(httpCtx)
	}
}

// dispatcher adapts the queue to the monitor.
func (a *App) dispatcher() monitor.Dispatcher {
	return queueDispatcher{app: a}
}

type queueDispatcher struct {
	app *App
}

// Completed calls wait briefly for a free slot before being dropped; the
// recording stays fetchable for a short while after the call ends.
const (
	dispatchRetryWindow   = 2 * time.Second
	dispatchRetryInterval = 100 * time.Millisecond
)

func (d queueDispatcher) Dispatch(ctx context.Context, job processor.Job) bool {
	a := d.app
	ok, _ := a.queue.EnqueueWithRetry(ctx, queue.Job{
		ID:     job.Call.ID,
		Source: "completed-call",
		Work: func(ctx context.Context) error {
			return a.proc.Process(ctx, job).Err()
		},
		OnFinish: func(err error) {
			a.metrics.RecordJobCompletion(err)
			a.syncQueueMetrics()
		},
	}, dispatchRetryWindow, dispatchRetryInterval)
	a.syncQueueMetrics()
	return ok
}

func (a *App) syncQueueMetrics() {
	s := a.queue.Stats()
	a.metrics.UpdateQueue(s.Length, s.Capacity, s.WorkerCount)
}
