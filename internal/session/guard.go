// Package session decides whether the dashboard session is authenticated and
// re-establishes it when it is not.
package session

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"callwatch/internal/browser"
	"callwatch/internal/challenge"
	"callwatch/internal/config"
)

var (
	authenticatedMarkers = []string{"a[href*='logout']", ".user-profile", ".account-menu"}
	loginFormMarkers     = []string{"input[type='email']", "input[type='password']", "#login-form"}

	emailFields    = []string{"input[type='email']", "input[name='email']", "#email"}
	passwordFields = []string{"input[type='password']", "input[name='password']", "#password"}
	submitButtons  = []string{"button[type='submit']", "input[type='submit']", "#login-form button"}

	// authenticatedPaths signal a completed manual login.
	authenticatedPaths = []string{"live/calls", "dashboard"}
)

// Challenger is the subset of the challenge handler the guard uses.
type Challenger interface {
	Handle(ctx context.Context, page browser.Page) challenge.Outcome
}

// Options configure the guard.
type Options struct {
	LoginURL string
	CallURL  string
	BaseURL  string
	Email    string
	Password string
	Cookies  *config.CookieSource
	// LoginWait bounds the wait for the login form to redirect.
	LoginWait time.Duration
	// ManualWait bounds the final wait for an operator to log in by hand.
	ManualWait   time.Duration
	PollInterval time.Duration
}

// Guard checks and restores authentication.
type Guard struct {
	opts      Options
	log       *zap.SugaredLogger
	challenge Challenger
	pacer     browser.Pacer
}

// New returns a guard.
func New(opts Options, challenger Challenger, pacer browser.Pacer, log *zap.SugaredLogger) *Guard {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LoginWait <= 0 {
		opts.LoginWait = 30 * time.Second
	}
	return &Guard{opts: opts, log: log, challenge: challenger, pacer: pacer}
}

// IsLoggedIn is optimistic: it returns false only on the login page or when a
// login form is shown without any authenticated marker.
func (g *Guard) IsLoggedIn(ctx context.Context, page browser.Page) bool {
	u, err := page.CurrentURL(ctx)
	if err != nil {
		return true
	}
	if g.onLoginPage(u) {
		return false
	}
	if browser.AnyMatch(ctx, page, authenticatedMarkers) {
		return true
	}
	if browser.AnyMatch(ctx, page, loginFormMarkers) {
		return false
	}
	return true
}

func (g *Guard) onLoginPage(u string) bool {
	lower := strings.ToLower(u)
	if g.opts.LoginURL != "" && strings.HasPrefix(lower, strings.ToLower(g.opts.LoginURL)) {
		return true
	}
	return strings.Contains(lower, "login")
}

type method struct {
	name  string
	ready func() bool
	run   func(ctx context.Context, page browser.Page) bool
}

func (g *Guard) methods() []method {
	return []method{
		{name: "cookies", ready: func() bool { return g.opts.Cookies.Len() > 0 }, run: g.replayCookies},
		{name: "credentials", ready: func() bool { return g.opts.Email != "" && g.opts.Password != "" }, run: g.submitCredentials},
		{name: "manual", ready: func() bool { return g.opts.ManualWait > 0 }, run: g.waitForManualLogin},
	}
}

// EnsureLoggedIn tries cookie replay, then the login form, then a bounded
// wait for a manual login. False means every method was exhausted.
func (g *Guard) EnsureLoggedIn(ctx context.Context, page browser.Page) bool {
	for _, m := range g.methods() {
		if ctx.Err() != nil {
			return false
		}
		if !m.ready() {
			continue
		}
		g.log.Infow("authenticating", "method", m.name)
		if m.run(ctx, page) {
			g.log.Infow("authenticated", "method", m.name)
			return true
		}
		g.log.Warnw("authentication method failed", "method", m.name)
	}
	return false
}

func (g *Guard) replayCookies(ctx context.Context, page browser.Page) bool {
	if err := page.Navigate(ctx, g.opts.BaseURL); err != nil {
		g.log.Warnw("cookie replay navigate failed", "err", err)
		return false
	}
	if err := page.ClearCookies(ctx); err != nil {
		g.log.Warnw("clear cookies failed", "err", err)
	}
	cookies := BrowserCookies(g.opts.Cookies.Cookies(), g.opts.BaseURL)
	if err := page.SetCookies(ctx, cookies); err != nil {
		g.log.Warnw("set cookies failed", "err", err)
		return false
	}
	if err := page.Refresh(ctx); err != nil {
		g.log.Warnw("refresh after cookies failed", "err", err)
	}
	g.challenge.Handle(ctx, page)
	if err := page.Navigate(ctx, g.opts.CallURL); err != nil {
		g.log.Warnw("call page navigate failed", "err", err)
		return false
	}
	g.challenge.Handle(ctx, page)
	return g.IsLoggedIn(ctx, page)
}

func (g *Guard) submitCredentials(ctx context.Context, page browser.Page) bool {
	if err := page.Navigate(ctx, g.opts.LoginURL); err != nil {
		g.log.Warnw("login page navigate failed", "err", err)
		return false
	}
	g.challenge.Handle(ctx, page)

	if !g.fill(ctx, page, emailFields, g.opts.Email) || !g.fill(ctx, page, passwordFields, g.opts.Password) {
		return false
	}
	g.challenge.Handle(ctx, page)

	submit, _, ok := browser.FirstMatch(ctx, page, submitButtons)
	if !ok {
		g.log.Warnw("login submit button not found")
		return false
	}
	if err := submit.Click(ctx); err != nil {
		g.log.Warnw("login submit failed", "err", err)
		return false
	}
	if !g.pollURL(ctx, page, g.opts.LoginWait, func(u string) bool { return !g.onLoginPage(u) }) {
		return false
	}
	g.challenge.Handle(ctx, page)
	if err := page.Navigate(ctx, g.opts.CallURL); err != nil {
		return false
	}
	return g.IsLoggedIn(ctx, page)
}

func (g *Guard) fill(ctx context.Context, page browser.Page, selectors []string, value string) bool {
	field, sel, ok := browser.FirstMatch(ctx, page, selectors)
	if !ok {
		g.log.Warnw("login field not found", "selectors", selectors)
		return false
	}
	if err := field.Click(ctx); err != nil {
		if err := field.Focus(ctx); err != nil {
			g.log.Warnw("login field not focusable", "selector", sel, "err", err)
			return false
		}
	}
	if err := browser.TypeSlowly(ctx, page, g.pacer, value); err != nil {
		return false
	}
	return g.pacer.Pause(ctx, 300*time.Millisecond, 900*time.Millisecond) == nil
}

func (g *Guard) waitForManualLogin(ctx context.Context, page browser.Page) bool {
	g.log.Warnw("waiting for manual login", "timeout", g.opts.ManualWait)
	return g.pollURL(ctx, page, g.opts.ManualWait, func(u string) bool {
		lower := strings.ToLower(u)
		for _, p := range authenticatedPaths {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	})
}

func (g *Guard) pollURL(ctx context.Context, page browser.Page, limit time.Duration, done func(string) bool) bool {
	deadline := time.Now().Add(limit)
	for {
		if u, err := page.CurrentURL(ctx); err == nil && done(u) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if err := browser.Sleep(ctx, g.opts.PollInterval); err != nil {
			return false
		}
	}
}

// BrowserCookies converts exported cookies for injection. Cookies without a
// domain get the host of baseURL.
func BrowserCookies(cookies []config.Cookie, baseURL string) []browser.Cookie {
	host := ""
	if u, err := url.Parse(baseURL); err == nil {
		host = u.Hostname()
	}
	out := make([]browser.Cookie, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		out = append(out, browser.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     c.Path,
			Expires:  c.Expiry(),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.NormalizedSameSite(),
		})
	}
	return out
}
