// Package monitor drives the dashboard: it keeps the session authenticated,
// refreshes the page on a cyclic schedule, scans the live calls table and
// hands completed calls to the processing queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callwatch/formatting"
	"callwatch/internal/browser"
	"callwatch/internal/calls"
	"callwatch/internal/challenge"
	"callwatch/internal/events"
	"callwatch/internal/metrics"
	"callwatch/internal/processor"
	"callwatch/internal/schedule"
)

var (
	// ErrStartupAuth means the first authentication attempt failed.
	ErrStartupAuth = errors.New("startup authentication failed")
	// ErrErrorBudgetExhausted means too many consecutive cycles failed.
	ErrErrorBudgetExhausted = errors.New("error budget exhausted")

	errReauthFailed = errors.New("re-authentication failed")
)

// Guard checks and restores the dashboard session.
type Guard interface {
	IsLoggedIn(ctx context.Context, page browser.Page) bool
	EnsureLoggedIn(ctx context.Context, page browser.Page) bool
}

// Challenger resolves anti-bot interstitials.
type Challenger interface {
	Handle(ctx context.Context, page browser.Page) challenge.Outcome
}

// RowSource reads the live calls table.
type RowSource interface {
	Rows(ctx context.Context, page browser.Page) ([]calls.RawRow, error)
}

// Dispatcher accepts completed calls for asynchronous processing. It
// returns false when the job could not be queued.
type Dispatcher interface {
	Dispatch(ctx context.Context, job processor.Job) bool
}

// AdminNotifier sends the transient admin message for a new call.
type AdminNotifier interface {
	SendText(ctx context.Context, chatID, text string) (int64, error)
}

// Options tune the loop.
type Options struct {
	CallURL       string
	AdminChatID   string
	TableSelector string
	MaxErrors     int
	CheckInterval time.Duration
	ErrorBackoff  time.Duration
	ReauthBackoff time.Duration
	TableWait     time.Duration
}

// Deps are the collaborators of the loop.
type Deps struct {
	Page       browser.Page
	Guard      Guard
	Challenger Challenger
	Rows       RowSource
	Registry   *calls.Registry
	Schedule   *schedule.Schedule
	Dispatcher Dispatcher
	Notifier   AdminNotifier
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Log        *zap.SugaredLogger
}

// Loop is the single-threaded control loop. Only Run touches the page.
type Loop struct {
	opts Options
	Deps

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	runID string

	mu    sync.RWMutex
	state State

	failures    int
	interval    time.Duration
	lastRefresh time.Time
}

// New builds a loop in the Bootstrapping state.
func New(opts Options, deps Deps) *Loop {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 10
	}
	if opts.TableSelector == "" {
		opts.TableSelector = "#LiveCalls"
	}
	id := uuid.NewString()
	deps.Log = deps.Log.With("run_id", id)
	return &Loop{
		opts:  opts,
		Deps:  deps,
		now:   time.Now,
		sleep: browser.Sleep,
		runID: id,
		state: Bootstrapping,
	}
}

// WithClock overrides the time source and the sleep function.
func (l *Loop) WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Loop {
	l.now = now
	l.sleep = sleep
	return l
}

// State returns the current state. Safe for concurrent use.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// RunID identifies this loop in logs and the ledger.
func (l *Loop) RunID() string { return l.runID }

func (l *Loop) transition(to State) {
	l.mu.Lock()
	from := l.state
	l.state = to
	l.mu.Unlock()
	if from == to {
		return
	}
	l.Log.Infow("state changed", "from", from.String(), "state", to.String())
	l.Bus.Publish(events.StateChanged{RunID: l.runID, From: from.String(), To: to.String(), At: l.now()})
}

// Run blocks until ctx is done, startup authentication fails, or the error
// budget is exhausted. A cancelled ctx is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.bootstrap(ctx); err != nil {
		l.transition(Stopped)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		if ctx.Err() != nil {
			l.transition(Stopped)
			return nil
		}
		err := l.step(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			l.transition(Stopped)
			return nil
		}
		l.failures++
		l.Metrics.SetErrorBudget(l.failures)
		l.Log.Warnw("cycle failed", "state", l.State().String(), "errors", l.failures, "max_errors", l.opts.MaxErrors, "err", err)
		if l.failures >= l.opts.MaxErrors {
			l.transition(Stopped)
			return fmt.Errorf("%w: %d consecutive failures, last: %v", ErrErrorBudgetExhausted, l.failures, err)
		}
		backoff := l.opts.ErrorBackoff
		if errors.Is(err, errReauthFailed) {
			backoff = l.opts.ReauthBackoff
		}
		if l.sleep(ctx, backoff) != nil {
			l.transition(Stopped)
			return nil
		}
	}
}

func (l *Loop) bootstrap(ctx context.Context) error {
	if err := l.Page.Navigate(ctx, l.opts.CallURL); err != nil {
		l.Log.Warnw("initial navigation failed", "url", l.opts.CallURL, "err", err)
	}
	ok := l.Guard.IsLoggedIn(ctx, l.Page) || l.Guard.EnsureLoggedIn(ctx, l.Page)
	if !ok {
		l.Metrics.Reauth(false)
		return ErrStartupAuth
	}
	l.transition(Authenticated)
	l.openDashboard(ctx)
	l.interval = l.Schedule.Next()
	l.lastRefresh = l.now()
	l.Log.Infow("monitoring started", "interval", l.interval.String())
	l.transition(Monitoring)
	return nil
}

// openDashboard loads the call list and waits for the table. A missing table
// is logged and tolerated.
func (l *Loop) openDashboard(ctx context.Context) {
	if err := l.Page.Navigate(ctx, l.opts.CallURL); err != nil {
		l.Log.Warnw("open call list failed", "url", l.opts.CallURL, "err", err)
		return
	}
	if _, err := l.Page.WaitElement(ctx, l.opts.TableSelector, l.opts.TableWait); err == nil {
		return
	}
	if _, err := l.Page.WaitElement(ctx, "table", l.opts.TableWait/3); err != nil {
		l.Log.Warnw("call table not visible yet", "selector", l.opts.TableSelector)
	}
}

// step runs one cycle of the current state. Panics are turned into errors.
func (l *Loop) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch l.State() {
	case Monitoring:
		return l.monitor(ctx)
	case Refreshing:
		l.refresh(ctx)
		return nil
	case ReAuthenticating:
		return l.reauthenticate(ctx)
	default:
		return fmt.Errorf("unexpected state %s", l.State())
	}
}

func (l *Loop) monitor(ctx context.Context) error {
	if schedule.ShouldRefreshNow(l.lastRefresh, l.interval, l.now()) {
		l.transition(Refreshing)
		return nil
	}
	if !l.Guard.IsLoggedIn(ctx, l.Page) {
		l.transition(ReAuthenticating)
		return nil
	}

	rows, err := l.Rows.Rows(ctx, l.Page)
	switch {
	case errors.Is(err, calls.ErrTableNotFound):
		l.Log.Debugw("call table missing this cycle", "err", err)
	case err != nil:
		return fmt.Errorf("scan: %w", err)
	default:
		l.apply(ctx, l.Registry.Diff(rows))
		l.failures = 0
		l.Metrics.SetErrorBudget(0)
	}
	return l.sleep(ctx, l.opts.CheckInterval)
}

func (l *Loop) apply(ctx context.Context, ch calls.Changes) {
	for _, r := range ch.Skipped {
		l.Log.Debugw("row skipped", "call_id", r.ID, "reason", r.Reason)
	}
	// Completed ids are already claimed. A panic must not strand the ones
	// that never reached the dispatcher.
	next := 0
	defer func() {
		if r := recover(); r != nil {
			for _, cs := range ch.Completed[next:] {
				l.Registry.Release(cs.ID)
			}
			panic(r)
		}
	}()
	for _, cs := range ch.Started {
		l.started(ctx, cs)
	}
	for i, cs := range ch.Completed {
		next = i
		l.completed(ctx, cs)
	}
	next = len(ch.Completed)
}

func (l *Loop) started(ctx context.Context, cs calls.CallSession) {
	l.Metrics.CallStarted()
	l.Log.Infow("call started", "call_id", cs.ID, "number", formatting.Mask(cs.PhoneNumber), "country", cs.Country)
	l.Bus.Publish(events.CallStarted{CallID: cs.ID, Number: cs.PhoneNumber, Country: cs.Country, At: cs.DetectedAt})

	if l.Notifier == nil || l.opts.AdminChatID == "" {
		return
	}
	id, err := l.Notifier.SendText(ctx, l.opts.AdminChatID, formatting.AdminText(cs.PhoneNumber, cs.RecordingURL))
	if err != nil {
		l.Log.Warnw("admin notice failed", "call_id", cs.ID, "err", err)
		return
	}
	l.Registry.SetAdminMessage(cs.ID, id)
}

func (l *Loop) completed(ctx context.Context, cs calls.CallSession) {
	l.Metrics.CallCompleted()
	l.Log.Infow("call completed", "call_id", cs.ID, "number", formatting.Mask(cs.PhoneNumber), "duration", cs.LastSeen.Sub(cs.DetectedAt).String())
	l.Bus.Publish(events.CallCompleted{CallID: cs.ID, At: l.now()})

	job := processor.Job{Call: cs, Cookies: l.cookieSnapshot(ctx)}
	if ua, err := l.Page.Eval(ctx, `() => navigator.userAgent`); err == nil {
		job.UserAgent = ua
	}
	prime := fmt.Sprintf(`() => { if (typeof window.Play === "function") { window.Play(%s, %s); } return ""; }`,
		strconv.Quote(cs.PhoneNumber), strconv.Quote(cs.ID))
	if _, err := l.Page.Eval(ctx, prime); err != nil {
		l.Log.Debugw("play priming failed", "call_id", cs.ID, "err", err)
	}

	if !l.Dispatcher.Dispatch(ctx, job) {
		l.Registry.Release(cs.ID)
		l.Metrics.DispatchDropped()
		l.Log.Warnw("completed call dropped", "call_id", cs.ID)
	}
}

func (l *Loop) cookieSnapshot(ctx context.Context) []*http.Cookie {
	jar, err := l.Page.Cookies(ctx)
	if err != nil {
		l.Log.Warnw("cookie snapshot failed", "err", err)
		return nil
	}
	out := make([]*http.Cookie, 0, len(jar))
	for _, c := range jar {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out
}

// refresh reloads the page. Failures fall back to the fast retry interval
// and leave the registry untouched.
func (l *Loop) refresh(ctx context.Context) {
	ok := l.reload(ctx)
	if ok {
		l.interval = l.Schedule.Next()
	} else {
		l.interval = l.Schedule.FastRetry()
	}
	l.lastRefresh = l.now()
	l.Metrics.Refresh(ok)
	l.Bus.Publish(events.RefreshDone{RunID: l.runID, OK: ok, Next: l.interval, At: l.lastRefresh})
	l.Log.Infow("page refreshed", "ok", ok, "interval", l.interval.String())

	if ctx.Err() == nil && !l.Guard.IsLoggedIn(ctx, l.Page) {
		l.transition(ReAuthenticating)
		return
	}
	l.transition(Monitoring)
}

func (l *Loop) reload(ctx context.Context) bool {
	if err := l.Page.Refresh(ctx); err != nil {
		l.Log.Warnw("refresh failed", "err", err)
		return false
	}
	out := l.Challenger.Handle(ctx, l.Page)
	if out != challenge.NotPresent {
		l.Metrics.Challenge(out == challenge.Resolved)
		l.Bus.Publish(events.ChallengeSeen{RunID: l.runID, Outcome: out.String(), At: l.now()})
	}
	if _, err := l.Page.WaitElement(ctx, l.opts.TableSelector, l.opts.TableWait); err != nil {
		l.Log.Warnw("call table did not reappear after refresh", "err", err)
		return false
	}
	return true
}

func (l *Loop) reauthenticate(ctx context.Context) error {
	ok := l.Guard.EnsureLoggedIn(ctx, l.Page)
	l.Metrics.Reauth(ok)
	if !ok {
		return errReauthFailed
	}
	l.openDashboard(ctx)
	l.transition(Monitoring)
	return nil
}
