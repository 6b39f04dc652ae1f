package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/browser"
	"callwatch/internal/browser/browsertest"
	"callwatch/internal/calls"
	"callwatch/internal/challenge"
	"callwatch/internal/events"
	"callwatch/internal/metrics"
	"callwatch/internal/processor"
	"callwatch/internal/schedule"
)

const callURL = "https://dash.example/live/calls"

type fakeGuard struct {
	loggedIn func() bool
	ensure   []bool
	ensured  int
}

func (g *fakeGuard) IsLoggedIn(context.Context, browser.Page) bool {
	if g.loggedIn == nil {
		return true
	}
	return g.loggedIn()
}

func (g *fakeGuard) EnsureLoggedIn(context.Context, browser.Page) bool {
	g.ensured++
	if len(g.ensure) == 0 {
		return false
	}
	ok := g.ensure[0]
	g.ensure = g.ensure[1:]
	return ok
}

type noChallenge struct{}

func (noChallenge) Handle(context.Context, browser.Page) challenge.Outcome { return challenge.NotPresent }

// scriptedRows returns one scripted result per scan and cancels once the
// script is exhausted.
type scriptedRows struct {
	script [][]calls.RawRow
	errs   []error
	cancel context.CancelFunc
	scans  int
}

func (s *scriptedRows) Rows(context.Context, browser.Page) ([]calls.RawRow, error) {
	i := s.scans
	s.scans++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.script) {
		s.cancel()
		return nil, nil
	}
	return s.script[i], nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	jobs   []processor.Job
	accept bool
	panics int
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job processor.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	if d.panics > 0 {
		d.panics--
		panic("dispatcher exploded")
	}
	return d.accept
}

type adminNotifier struct {
	texts []string
}

func (a *adminNotifier) SendText(_ context.Context, _, text string) (int64, error) {
	a.texts = append(a.texts, text)
	return 42, nil
}

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return ctx.Err()
}

type harness struct {
	loop     *Loop
	page     *browsertest.Page
	guard    *fakeGuard
	rows     *scriptedRows
	disp     *recordingDispatcher
	admin    *adminNotifier
	registry *calls.Registry
	clock    *fakeClock
	metrics  *metrics.Metrics
	bus      *events.Bus
}

func newHarness(t *testing.T, pattern []int) (*harness, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	page := browsertest.NewPage(callURL)
	page.Set("#LiveCalls", &browsertest.Element{})
	page.Jar = []browser.Cookie{{Name: "laravel_session", Value: "s", Domain: "dash.example", Path: "/"}}
	page.OnEval = func(_ *browsertest.Page, js string) (string, error) {
		if strings.Contains(js, "navigator.userAgent") {
			return "UA/1.0", nil
		}
		return "", nil
	}
	sched, err := schedule.New(pattern)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	clock := &fakeClock{t: time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)}
	reg := calls.NewRegistry(calls.Options{MinRowCells: 2, NumberCell: 1, BaseURL: "https://dash.example", RecordingPath: "/live/calls/sound"}).
		WithClock(clock.now)
	h := &harness{
		page:     page,
		guard:    &fakeGuard{},
		rows:     &scriptedRows{cancel: cancel},
		disp:     &recordingDispatcher{accept: true},
		admin:    &adminNotifier{},
		registry: reg,
		clock:    clock,
		metrics:  metrics.New(),
		bus:      events.NewBus(),
	}
	h.loop = New(Options{
		CallURL:       callURL,
		AdminChatID:   "admin",
		MaxErrors:     3,
		CheckInterval: 5 * time.Second,
		ErrorBackoff:  time.Second,
		ReauthBackoff: 10 * time.Second,
		TableWait:     time.Second,
	}, Deps{
		Page:       page,
		Guard:      h.guard,
		Challenger: noChallenge{},
		Rows:       h.rows,
		Registry:   reg,
		Schedule:   sched,
		Dispatcher: h.disp,
		Notifier:   h.admin,
		Bus:        h.bus,
		Metrics:    h.metrics,
		Log:        zap.NewNop().Sugar(),
	}).WithClock(clock.now, clock.sleep)
	return h, ctx
}

func TestStartupAuthFailureStops(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	h.guard.loggedIn = func() bool { return false }

	err := h.loop.Run(ctx)
	if !errors.Is(err, ErrStartupAuth) {
		t.Fatalf("expected ErrStartupAuth, got %v", err)
	}
	if h.loop.State() != Stopped {
		t.Fatalf("expected stopped, got %s", h.loop.State())
	}
	if h.rows.scans != 0 {
		t.Fatalf("expected no scans, got %d", h.rows.scans)
	}
}

func TestStartedThenCompletedDispatchesOnce(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	h.rows.script = [][]calls.RawRow{
		{{ID: "A", Cells: []string{"x", "+855 91 234 473"}}},
		{},
	}
	sub := h.bus.Subscribe(32)

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if len(h.disp.jobs) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(h.disp.jobs))
	}
	job := h.disp.jobs[0]
	if job.Call.ID != "A" || job.Call.PhoneNumber != "85591234473" {
		t.Fatalf("unexpected job %+v", job.Call)
	}
	if job.Call.AdminMessageID != 42 {
		t.Fatalf("expected admin message id carried, got %d", job.Call.AdminMessageID)
	}
	if job.UserAgent != "UA/1.0" || len(job.Cookies) != 1 || job.Cookies[0].Name != "laravel_session" {
		t.Fatalf("expected session snapshot, got ua=%q cookies=%v", job.UserAgent, job.Cookies)
	}
	if len(h.admin.texts) != 1 || !strings.Contains(h.admin.texts[0], "85591234473") {
		t.Fatalf("expected admin notice with full number, got %v", h.admin.texts)
	}
	if !h.registry.IsProcessing("A") {
		t.Fatalf("expected A in processing set until the worker releases it")
	}
	if !h.registry.Release("A") || h.registry.Release("A") {
		t.Fatalf("expected exactly one release")
	}
	if len(h.registry.Active()) != 0 {
		t.Fatalf("expected empty registry")
	}

	var primed bool
	for _, js := range h.page.Evals {
		if strings.Contains(js, `window.Play("85591234473", "A")`) {
			primed = true
		}
	}
	if !primed {
		t.Fatalf("expected play priming, evals %v", h.page.Evals)
	}

	var started, completed int
	for len(sub) > 0 {
		switch (<-sub).(type) {
		case events.CallStarted:
			started++
		case events.CallCompleted:
			completed++
		}
	}
	if started != 1 || completed != 1 {
		t.Fatalf("expected one start and one completion, got %d/%d", started, completed)
	}
	if h.loop.State() != Stopped {
		t.Fatalf("expected stopped, got %s", h.loop.State())
	}
}

func TestDroppedDispatchReleasesID(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	h.disp.accept = false
	h.rows.script = [][]calls.RawRow{
		{{ID: "A", Cells: []string{"x", "15550001111"}}},
		{},
	}
	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if h.registry.IsProcessing("A") {
		t.Fatalf("expected dropped call released")
	}
	if got := h.metrics.Snapshot().DispatchDrops; got != 1 {
		t.Fatalf("expected 1 dropped dispatch, got %d", got)
	}
}

func TestDispatchPanicReleasesClaimedIDs(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	h.disp.panics = 1
	h.rows.script = [][]calls.RawRow{
		{{ID: "A", Cells: []string{"x", "15550001111"}}, {ID: "B", Cells: []string{"x", "15550002222"}}},
		{},
		{{ID: "B", Cells: []string{"x", "15550002222"}}},
	}
	sub := h.bus.Subscribe(32)

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if h.registry.IsProcessing("A") {
		t.Fatalf("expected A released after the panic")
	}
	startsB := 0
	for len(sub) > 0 {
		if ev, ok := (<-sub).(events.CallStarted); ok && ev.CallID == "B" {
			startsB++
		}
	}
	if startsB != 2 {
		t.Fatalf("expected B tracked again after the panic, got %d starts", startsB)
	}
	var last processor.Job
	for _, j := range h.disp.jobs {
		last = j
	}
	if last.Call.ID != "B" {
		t.Fatalf("expected B dispatched on its second completion, got %+v", last.Call)
	}
	if h.loop.failures != 0 {
		t.Fatalf("expected failures reset by the later scans, got %d", h.loop.failures)
	}
}

func TestErrorBudgetExhausted(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	boom := errors.New("browser gone")
	h.rows.errs = []error{boom, boom, boom, boom}

	err := h.loop.Run(ctx)
	if !errors.Is(err, ErrErrorBudgetExhausted) {
		t.Fatalf("expected ErrErrorBudgetExhausted, got %v", err)
	}
	if h.rows.scans != 3 {
		t.Fatalf("expected 3 failing scans, got %d", h.rows.scans)
	}
	if h.loop.State() != Stopped {
		t.Fatalf("expected stopped, got %s", h.loop.State())
	}
}

func TestSuccessfulScanResetsErrorBudget(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	boom := errors.New("flaky")
	h.rows.errs = []error{boom, boom, nil, boom, boom}
	h.rows.script = make([][]calls.RawRow, 6)

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected budget reset to keep loop alive, got %v", err)
	}
}

func TestTableNotFoundIsTransient(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	h.rows.errs = []error{calls.ErrTableNotFound, calls.ErrTableNotFound, calls.ErrTableNotFound, calls.ErrTableNotFound}
	h.rows.script = make([][]calls.RawRow, 4)

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected missing table not to escalate, got %v", err)
	}
}

func TestRefreshAdvancesScheduleAndFastRetriesOnFailure(t *testing.T) {
	h, ctx := newHarness(t, []int{10, 20, 30})
	var refreshes int
	h.page.OnRefresh = func(p *browsertest.Page) error {
		refreshes++
		if refreshes == 2 {
			return errors.New("net::ERR_TIMED_OUT")
		}
		return nil
	}
	h.rows.script = make([][]calls.RawRow, 40)
	sub := h.bus.Subscribe(256)

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}

	var got []time.Duration
	var oks []bool
	for len(sub) > 0 {
		if ev, ok := (<-sub).(events.RefreshDone); ok {
			got = append(got, ev.Next)
			oks = append(oks, ev.OK)
		}
	}
	if len(got) < 3 {
		t.Fatalf("expected at least 3 refreshes, got %v", got)
	}
	want := []time.Duration{20 * time.Second, 10 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("expected intervals %v, got %v", want, got[:3])
		}
	}
	if !oks[0] || oks[1] || !oks[2] {
		t.Fatalf("expected ok pattern true,false,true, got %v", oks[:3])
	}
}

func TestReauthFailureBacksOffThenRecovers(t *testing.T) {
	h, ctx := newHarness(t, []int{1800})
	logged := true
	h.guard.loggedIn = func() bool { return logged }
	// First scan logs the session out; re-auth succeeds on the third try.
	h.guard.ensure = []bool{false, false, true}
	h.loop.Guard = &loginOnSuccess{fakeGuard: h.guard, onOK: func() { logged = true }}
	h.rows.script = [][]calls.RawRow{{}, {}, {}}
	scripted := h.rows
	h.loop.Rows = rowsFunc(func(ctx context.Context, p browser.Page) ([]calls.RawRow, error) {
		rows, err := scripted.Rows(ctx, p)
		if scripted.scans == 1 {
			logged = false
		}
		return rows, err
	})

	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if h.guard.ensured != 3 {
		t.Fatalf("expected 3 re-auth attempts, got %d", h.guard.ensured)
	}
	var reauthSleeps int
	for _, d := range h.clock.sleeps {
		if d == 10*time.Second {
			reauthSleeps++
		}
	}
	if reauthSleeps != 2 {
		t.Fatalf("expected 2 re-auth backoffs, got %d (%v)", reauthSleeps, h.clock.sleeps)
	}
	if s := h.metrics.Snapshot(); s.ReauthAttempts != 3 || s.ReauthFailures != 2 {
		t.Fatalf("expected 3 attempts and 2 failures, got %d/%d", s.ReauthAttempts, s.ReauthFailures)
	}
}

type rowsFunc func(context.Context, browser.Page) ([]calls.RawRow, error)

func (f rowsFunc) Rows(ctx context.Context, p browser.Page) ([]calls.RawRow, error) { return f(ctx, p) }

type loginOnSuccess struct {
	*fakeGuard
	onOK func()
}

func (g *loginOnSuccess) EnsureLoggedIn(ctx context.Context, p browser.Page) bool {
	ok := g.fakeGuard.EnsureLoggedIn(ctx, p)
	if ok {
		g.onOK()
	}
	return ok
}

func TestStateStrings(t *testing.T) {
	for s, want := range map[State]string{Bootstrapping: "bootstrapping", ReAuthenticating: "reauthenticating", Stopped: "stopped"} {
		if s.String() != want {
			t.Fatalf("expected %s, got %s", want, s.String())
		}
	}
}
